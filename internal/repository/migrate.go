package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// gooseLogger направляет вывод goose в zap.
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.sugar.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.sugar.Fatal(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// migrate применяет встроенные миграции указанного диалекта.
func migrate(ctx context.Context, db *sql.DB, fsys fs.FS, dialect, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	goose.SetLogger(gooseLogger{sugar: logger.Sugar().With("component", "migrations", "dialect", dialect)})
	goose.SetBaseFS(fsys)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
