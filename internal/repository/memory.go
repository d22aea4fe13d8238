package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mmeshcher/ecorewards-system/internal/leaderboard"
	"github.com/mmeshcher/ecorewards-system/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется без DATABASE_URI и в тестах.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	history  map[string][]model.RecyclingEvent
	byEmail  map[string]string
	order    []string
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]model.Account),
		history:  make(map[string][]model.RecyclingEvent),
		byEmail:  make(map[string]string),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// CreateAccount сохраняет новую учётную запись.
func (r *MemoryRepository) CreateAccount(ctx context.Context, acc model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	email := NormalizeEmail(acc.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, email)
	}
	if _, ok := r.accounts[acc.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrAccountExists, acc.ID)
	}

	acc.Email = email
	acc.Badges = slices.Clone(acc.Badges)
	acc.History = nil
	r.accounts[acc.ID] = acc
	r.byEmail[email] = acc.ID
	r.order = append(r.order, acc.ID)
	return nil
}

// GetAccount возвращает учётную запись без истории.
func (r *MemoryRepository) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acc.Badges = slices.Clone(acc.Badges)
	return &acc, nil
}

// GetAccountByEmail возвращает учётную запись по email без учёта регистра.
func (r *MemoryRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	r.mu.RLock()
	id, ok := r.byEmail[NormalizeEmail(email)]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.GetAccount(ctx, id)
}

// CommitRecycling сохраняет результат начисления, если версия учётной записи не изменилась.
// updated.Version должен совпадать с версией прочитанного снимка.
func (r *MemoryRepository) CommitRecycling(ctx context.Context, updated model.Account, event model.RecyclingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[updated.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if stored.Version != updated.Version {
		return fmt.Errorf("%w: expected version %d, stored %d", ErrConflict, updated.Version, stored.Version)
	}

	stored.Coins = updated.Coins
	stored.Level = updated.Level
	stored.DevicesRecycled = updated.DevicesRecycled
	stored.TotalValue = updated.TotalValue
	stored.CO2Saved = updated.CO2Saved
	stored.Badges = slices.Clone(updated.Badges)
	stored.LastActivity = latest(stored.LastActivity, updated.LastActivity)
	stored.Version++

	r.accounts[stored.ID] = stored
	r.history[stored.ID] = append(r.history[stored.ID], event)
	return nil
}

// UpdateProfile обновляет имя, профиль и настройки с проверкой версии.
func (r *MemoryRepository) UpdateProfile(ctx context.Context, updated model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[updated.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if stored.Version != updated.Version {
		return fmt.Errorf("%w: expected version %d, stored %d", ErrConflict, updated.Version, stored.Version)
	}

	stored.Name = updated.Name
	stored.Profile = updated.Profile
	stored.Preferences = updated.Preferences
	stored.LastActivity = latest(stored.LastActivity, updated.LastActivity)
	stored.Version++
	r.accounts[stored.ID] = stored
	return nil
}

// TouchLogin записывает время входа.
func (r *MemoryRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	stored.LastLogin = at
	stored.LastActivity = latest(stored.LastActivity, at)
	r.accounts[id] = stored
	return nil
}

// RecentHistory возвращает последние limit событий, начиная с самого нового.
func (r *MemoryRepository) RecentHistory(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.accounts[id]; !ok {
		return nil, ErrAccountNotFound
	}

	events := r.history[id]
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}

	out := make([]model.RecyclingEvent, 0, limit)
	for i := len(events) - 1; i >= len(events)-limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

// Rank вычисляет место учётной записи по показателю.
func (r *MemoryRepository) Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error) {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return model.RankInfo{}, err
	}

	info, ok := leaderboard.Rank(accounts, id, metric)
	if !ok {
		return model.RankInfo{}, ErrAccountNotFound
	}
	return info, nil
}

// ListAccounts возвращает снимок всех учётных записей в порядке создания.
func (r *MemoryRepository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Account, 0, len(r.order))
	for _, id := range r.order {
		acc := r.accounts[id]
		acc.Badges = slices.Clone(acc.Badges)
		out = append(out, acc)
	}
	return out, nil
}

// latest возвращает более позднее из двух времён: время активности не движется назад.
func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
