package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mmeshcher/ecorewards-system/internal/leaderboard"
	"github.com/mmeshcher/ecorewards-system/internal/model"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// SQLiteRepository хранит данные в файле SQLite. Подходит для одного экземпляра сервиса.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает файл БД и применяет миграции.
// Вывод миграций пишется в logger; nil отключает его.
func NewSQLiteRepository(path string, logger *zap.Logger) (*SQLiteRepository, error) {
	path = strings.TrimPrefix(path, "sqlite:")
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Один писатель: SQLite не допускает параллельных транзакций записи
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db, sqliteMigrationsFS, "sqlite3", "migrations/sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

// Close закрывает соединение с БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CreateAccount создаёт новую учётную запись вместе с начальными достижениями.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, acc model.Account) error {
	prefs, err := json.Marshal(acc.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	profile, err := json.Marshal(acc.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE email = ? OR id = ?`, NormalizeEmail(acc.Email), acc.ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, acc.Email)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, name, password_hash, coins, level, devices_recycled,
		   total_value_cents, co2_saved, preferences, profile, version, created_at, last_login, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, NormalizeEmail(acc.Email), acc.Name, acc.PasswordHash, acc.Coins, acc.Level, acc.DevicesRecycled,
		toCents(acc.TotalValue), acc.CO2Saved, string(prefs), string(profile), acc.Version,
		millis(acc.CreatedAt), millis(acc.LastLogin), millis(acc.LastActivity),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	if err := replaceBadgesSQLite(ctx, tx, acc.ID, acc.Badges); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const sqliteAccountColumns = `id, email, name, password_hash, coins, level, devices_recycled, total_value_cents,
	co2_saved, preferences, profile, version, created_at, last_login, last_activity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountSQLite(row rowScanner) (*model.Account, error) {
	var (
		a                               model.Account
		valueCents                      int64
		prefs, profile                  string
		createdAt, lastLogin, lastActiv int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Coins, &a.Level, &a.DevicesRecycled, &valueCents,
		&a.CO2Saved, &prefs, &profile, &a.Version, &createdAt, &lastLogin, &lastActiv)
	if err != nil {
		return nil, err
	}
	a.TotalValue = fromCents(valueCents)
	a.CreatedAt = fromMillis(createdAt)
	a.LastLogin = fromMillis(lastLogin)
	a.LastActivity = fromMillis(lastActiv)
	if err := json.Unmarshal([]byte(prefs), &a.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(profile), &a.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &a, nil
}

func (r *SQLiteRepository) getAccount(ctx context.Context, where string, arg any) (*model.Account, error) {
	a, err := scanAccountSQLite(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT badge FROM account_badges WHERE account_id = ? ORDER BY position`, a.ID)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		a.Badges = append(a.Badges, model.Badge(b))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return a, nil
}

// GetAccount возвращает учётную запись без истории.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return r.getAccount(ctx, "id = ?", id)
}

// GetAccountByEmail возвращает учётную запись по email без учёта регистра.
func (r *SQLiteRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.getAccount(ctx, "email = ?", NormalizeEmail(email))
}

// CommitRecycling атомарно сохраняет статистику, достижения и событие.
func (r *SQLiteRepository) CommitRecycling(ctx context.Context, updated model.Account, event model.RecyclingEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET coins = ?, level = ?, devices_recycled = ?, total_value_cents = ?, co2_saved = ?,
		     last_activity = MAX(last_activity, ?), version = version + 1
		 WHERE id = ? AND version = ?`,
		updated.Coins, updated.Level, updated.DevicesRecycled, toCents(updated.TotalValue), updated.CO2Saved,
		millis(updated.LastActivity), updated.ID, updated.Version,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := checkAffected(ctx, tx, res, updated.ID); err != nil {
		return err
	}

	if err := replaceBadgesSQLite(ctx, tx, updated.ID, updated.Badges); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recycling_events (account_id, id, device_type, condition, coins_earned,
		   estimated_value_cents, co2_saved, location, image_url, level_up_bonus, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		updated.ID, event.ID, string(event.DeviceType), string(event.Condition), event.CoinsEarned,
		toCents(event.EstimatedValue), event.CO2Saved, event.Location, event.ImageURL, event.LevelUpBonus,
		millis(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func checkAffected(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM accounts WHERE id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("select version: %w", err)
	}
	return fmt.Errorf("%w: stored version %d", ErrConflict, version)
}

func replaceBadgesSQLite(ctx context.Context, tx *sql.Tx, accountID string, badges []model.Badge) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM account_badges WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete badges: %w", err)
	}
	for i, b := range badges {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO account_badges (account_id, badge, position) VALUES (?, ?, ?)`, accountID, string(b), i)
		if err != nil {
			return fmt.Errorf("insert badge: %w", err)
		}
	}
	return nil
}

// UpdateProfile обновляет имя, профиль и настройки с проверкой версии.
func (r *SQLiteRepository) UpdateProfile(ctx context.Context, updated model.Account) error {
	prefs, err := json.Marshal(updated.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	profile, err := json.Marshal(updated.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET name = ?, preferences = ?, profile = ?, last_activity = MAX(last_activity, ?), version = version + 1
		 WHERE id = ? AND version = ?`,
		updated.Name, string(prefs), string(profile), millis(updated.LastActivity), updated.ID, updated.Version,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if err := checkAffected(ctx, tx, res, updated.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TouchLogin записывает время входа.
func (r *SQLiteRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_login = ?, last_activity = MAX(last_activity, ?) WHERE id = ?`, millis(at), millis(at), id)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecentHistory возвращает последние limit событий, начиная с самого нового.
func (r *SQLiteRepository) RecentHistory(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error) {
	if _, err := r.GetAccount(ctx, id); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_type, condition, coins_earned, estimated_value_cents, co2_saved,
		        location, image_url, level_up_bonus, created_at
		 FROM recycling_events
		 WHERE account_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var events []model.RecyclingEvent
	for rows.Next() {
		var (
			e                     model.RecyclingEvent
			deviceType, condition string
			valueCents, createdAt int64
			bonus                 sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &deviceType, &condition, &e.CoinsEarned, &valueCents, &e.CO2Saved,
			&e.Location, &e.ImageURL, &bonus, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.DeviceType = model.DeviceType(deviceType)
		e.Condition = model.Condition(condition)
		e.EstimatedValue = fromCents(valueCents)
		e.Timestamp = fromMillis(createdAt)
		if bonus.Valid {
			v := bonus.Int64
			e.LevelUpBonus = &v
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Rank вычисляет место учётной записи по показателю.
func (r *SQLiteRepository) Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error) {
	col := metricColumn(metric)

	var greater, total int
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM accounts o WHERE o.`+col+` > a.`+col+`),
		   (SELECT COUNT(*) FROM accounts)
		 FROM accounts a
		 WHERE a.id = ?`,
		id,
	).Scan(&greater, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RankInfo{}, ErrAccountNotFound
		}
		return model.RankInfo{}, fmt.Errorf("rank: %w", err)
	}

	return leaderboard.NewRankInfo(greater+1, total), nil
}

// ListAccounts возвращает снимок всех учётных записей в порядке создания.
func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := r.listAccountRows(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(accounts))
	for i := range accounts {
		index[accounts[i].ID] = i
	}

	rows, err := r.db.QueryContext(ctx, `SELECT account_id, badge FROM account_badges ORDER BY account_id, position`)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID, badge string
		if err := rows.Scan(&accountID, &badge); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		if i, ok := index[accountID]; ok {
			accounts[i].Badges = append(accounts[i].Badges, model.Badge(badge))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return accounts, nil
}

func (r *SQLiteRepository) listAccountRows(ctx context.Context) ([]model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteAccountColumns+` FROM accounts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccountSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return accounts, nil
}
