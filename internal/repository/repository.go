// Package repository хранит учётные записи и историю переработки.
package repository

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

var (
	// ErrAccountExists возвращается при попытке создать учётную запись с занятым email.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если учётная запись не найдена.
	ErrAccountNotFound = errors.New("account not found")
	// ErrConflict возвращается, если учётная запись изменилась после чтения снимка.
	ErrConflict = errors.New("account was modified concurrently")
)

var emailFolder = cases.Fold()

// NormalizeEmail приводит email к виду, в котором он хранится и сравнивается.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// metricColumns сопоставляет показатель рейтинга с колонкой таблицы accounts.
var metricColumns = map[model.Metric]string{
	model.MetricCoins:           "coins",
	model.MetricDevicesRecycled: "devices_recycled",
	model.MetricLevel:           "level",
	model.MetricTotalValue:      "total_value_cents",
}

func metricColumn(m model.Metric) string {
	if col, ok := metricColumns[m]; ok {
		return col
	}
	return metricColumns[model.MetricCoins]
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}

// Store объединяет операции, которые реализует каждое хранилище.
type Store interface {
	Close() error
	CreateAccount(ctx context.Context, acc model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	CommitRecycling(ctx context.Context, updated model.Account, event model.RecyclingEvent) error
	UpdateProfile(ctx context.Context, updated model.Account) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	RecentHistory(ctx context.Context, id string, limit int) ([]model.RecyclingEvent, error)
	Rank(ctx context.Context, id string, metric model.Metric) (model.RankInfo, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

var (
	_ Store = (*MemoryRepository)(nil)
	_ Store = (*PostgresRepository)(nil)
	_ Store = (*SQLiteRepository)(nil)
)

// Backend определяет тип хранилища по строке подключения:
// пустая строка означает память, postgres:// или postgresql:// означает PostgreSQL, иначе файл SQLite.
func Backend(dsn string) string {
	switch {
	case dsn == "":
		return "memory"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

// Open создаёт хранилище, выбранное по строке подключения.
func Open(dsn string, logger *zap.Logger) (Store, error) {
	switch Backend(dsn) {
	case "memory":
		return NewMemoryRepository(), nil
	case "postgres":
		repo, err := NewPostgresRepository(dsn, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		repo, err := NewSQLiteRepository(dsn, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}
