package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/mmeshcher/ecorewards-system/internal/leaderboard"
	"github.com/mmeshcher/ecorewards-system/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
// Вывод миграций пишется в logger; nil отключает его.
func NewPostgresRepository(dsn string, logger *zap.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx, logger); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context, logger *zap.Logger) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	return migrate(ctx, db, postgresMigrationsFS, "postgres", "migrations/postgres", logger)
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Ошибки контекста и предметные ошибки не повторяем
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrConflict) || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrAccountExists) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateAccount создаёт новую учётную запись вместе с начальными достижениями.
func (r *PostgresRepository) CreateAccount(ctx context.Context, acc model.Account) error {
	prefs, err := json.Marshal(acc.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	profile, err := json.Marshal(acc.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO accounts (id, email, name, password_hash, coins, level, devices_recycled,
			   total_value_cents, co2_saved, preferences, profile, version, created_at, last_login, last_activity)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			acc.ID, NormalizeEmail(acc.Email), acc.Name, acc.PasswordHash, acc.Coins, acc.Level, acc.DevicesRecycled,
			toCents(acc.TotalValue), acc.CO2Saved, prefs, profile, acc.Version, acc.CreatedAt, acc.LastLogin, acc.LastActivity,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrAccountExists, acc.Email)
			}
			return fmt.Errorf("insert account: %w", err)
		}

		if err := replaceBadgesPg(ctx, tx, acc.ID, acc.Badges); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

const pgAccountColumns = `id, email, name, password_hash, coins, level, devices_recycled, total_value_cents,
	co2_saved, preferences, profile, version, created_at, last_login, last_activity`

func scanAccountPg(row pgx.Row) (*model.Account, error) {
	var (
		a          model.Account
		valueCents int64
		prefs      []byte
		profile    []byte
	)
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Coins, &a.Level, &a.DevicesRecycled, &valueCents,
		&a.CO2Saved, &prefs, &profile, &a.Version, &a.CreatedAt, &a.LastLogin, &a.LastActivity)
	if err != nil {
		return nil, err
	}
	a.TotalValue = fromCents(valueCents)
	if err := json.Unmarshal(prefs, &a.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal(profile, &a.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) getAccount(ctx context.Context, where string, arg any) (*model.Account, error) {
	var acc *model.Account
	err := r.withRetry(ctx, func() error {
		a, err := scanAccountPg(r.pool.QueryRow(ctx,
			`SELECT `+pgAccountColumns+` FROM accounts WHERE `+where, arg))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("get account: %w", err)
		}

		rows, err := r.pool.Query(ctx,
			`SELECT badge FROM account_badges WHERE account_id = $1 ORDER BY position`, a.ID)
		if err != nil {
			return fmt.Errorf("select badges: %w", err)
		}
		badges, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("scan badges: %w", err)
		}
		for _, b := range badges {
			a.Badges = append(a.Badges, model.Badge(b))
		}

		acc = a
		return nil
	})
	return acc, err
}

// GetAccount возвращает учётную запись без истории.
func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return r.getAccount(ctx, "id = $1", id)
}

// GetAccountByEmail возвращает учётную запись по email без учёта регистра.
func (r *PostgresRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.getAccount(ctx, "email = $1", NormalizeEmail(email))
}

// CommitRecycling атомарно сохраняет статистику, достижения и событие.
// Возвращает ErrConflict, если версия в БД отличается от updated.Version.
func (r *PostgresRepository) CommitRecycling(ctx context.Context, updated model.Account, event model.RecyclingEvent) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`UPDATE accounts
			 SET coins = $3, level = $4, devices_recycled = $5, total_value_cents = $6, co2_saved = $7,
			     last_activity = GREATEST(last_activity, $8), version = version + 1
			 WHERE id = $1 AND version = $2`,
			updated.ID, updated.Version, updated.Coins, updated.Level, updated.DevicesRecycled,
			toCents(updated.TotalValue), updated.CO2Saved, updated.LastActivity,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrConflict(ctx, tx, updated.ID)
		}

		if err := replaceBadgesPg(ctx, tx, updated.ID, updated.Badges); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO recycling_events (account_id, id, device_type, condition, coins_earned,
			   estimated_value_cents, co2_saved, location, image_url, level_up_bonus, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			updated.ID, event.ID, string(event.DeviceType), string(event.Condition), event.CoinsEarned,
			toCents(event.EstimatedValue), event.CO2Saved, event.Location, event.ImageURL, event.LevelUpBonus, event.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) missingOrConflict(ctx context.Context, tx pgx.Tx, id string) error {
	var version int64
	err := tx.QueryRow(ctx, `SELECT version FROM accounts WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("select version: %w", err)
	}
	return fmt.Errorf("%w: stored version %d", ErrConflict, version)
}

func replaceBadgesPg(ctx context.Context, tx pgx.Tx, accountID string, badges []model.Badge) error {
	if _, err := tx.Exec(ctx, `DELETE FROM account_badges WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("delete badges: %w", err)
	}

	if len(badges) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, b := range badges {
		batch.Queue(`INSERT INTO account_badges (account_id, badge, position) VALUES ($1, $2, $3)`,
			accountID, string(b), i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert badges: %w", err)
	}
	return nil
}

// UpdateProfile обновляет имя, профиль и настройки с проверкой версии.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, updated model.Account) error {
	prefs, err := json.Marshal(updated.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	profile, err := json.Marshal(updated.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET name = $3, preferences = $4, profile = $5, last_activity = GREATEST(last_activity, $6), version = version + 1
			 WHERE id = $1 AND version = $2`,
			updated.ID, updated.Version, updated.Name, prefs, profile, updated.LastActivity,
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrConflict(ctx, tx, updated.ID)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// TouchLogin записывает время входа.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_login = $2, last_activity = GREATEST(last_activity, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecentHistory возвращает последние limit событий, начиная с самого нового.
func (r *PostgresRepository) RecentHistory(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error) {
	if _, err := r.GetAccount(ctx, id); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, device_type, condition, coins_earned, estimated_value_cents, co2_saved,
		        location, image_url, level_up_bonus, created_at
		 FROM recycling_events
		 WHERE account_id = $1
		 ORDER BY seq DESC
		 LIMIT NULLIF($2, -1)`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var events []model.RecyclingEvent
	for rows.Next() {
		var (
			e          model.RecyclingEvent
			deviceType string
			condition  string
			valueCents int64
		)
		if err := rows.Scan(&e.ID, &deviceType, &condition, &e.CoinsEarned, &valueCents, &e.CO2Saved,
			&e.Location, &e.ImageURL, &e.LevelUpBonus, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.DeviceType = model.DeviceType(deviceType)
		e.Condition = model.Condition(condition)
		e.EstimatedValue = fromCents(valueCents)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

// Rank вычисляет место учётной записи по показателю.
func (r *PostgresRepository) Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error) {
	col := metricColumn(metric)

	var greater, total int
	err := r.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM accounts o WHERE o.`+col+` > a.`+col+`),
		   (SELECT COUNT(*) FROM accounts)
		 FROM accounts a
		 WHERE a.id = $1`,
		id,
	).Scan(&greater, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RankInfo{}, ErrAccountNotFound
		}
		return model.RankInfo{}, fmt.Errorf("rank: %w", err)
	}

	return leaderboard.NewRankInfo(greater+1, total), nil
}

// ListAccounts возвращает снимок всех учётных записей в порядке создания.
func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgAccountColumns+` FROM accounts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var (
		accounts []model.Account
		index    = map[string]int{}
	)
	for rows.Next() {
		a, err := scanAccountPg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		index[a.ID] = len(accounts)
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	badgeRows, err := r.pool.Query(ctx, `SELECT account_id, badge FROM account_badges ORDER BY account_id, position`)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	defer badgeRows.Close()

	for badgeRows.Next() {
		var accountID, badge string
		if err := badgeRows.Scan(&accountID, &badge); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		if i, ok := index[accountID]; ok {
			accounts[i].Badges = append(accounts[i].Badges, model.Badge(badge))
		}
	}
	if err := badgeRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return accounts, nil
}
