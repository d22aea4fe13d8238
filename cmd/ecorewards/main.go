// Package main запускает HTTP-сервер сервиса вознаграждений за переработку.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/ecorewards-system/internal/catalog"
	"github.com/mmeshcher/ecorewards-system/internal/classifier"
	"github.com/mmeshcher/ecorewards-system/internal/config"
	"github.com/mmeshcher/ecorewards-system/internal/handler"
	"github.com/mmeshcher/ecorewards-system/internal/metrics"
	"github.com/mmeshcher/ecorewards-system/internal/middleware"
	"github.com/mmeshcher/ecorewards-system/internal/repository"
	"github.com/mmeshcher/ecorewards-system/internal/service"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := repository.Open(cfg.DatabaseURI, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	sugar.Infow("storage ready", "backend", repository.Backend(cfg.DatabaseURI))

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		cat, err = catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			sugar.Fatalw("catalog load error", "file", cfg.CatalogFile, "error", err.Error())
		}
	}

	keyword := classifier.NewKeyword(nil)
	var cls classifier.Strategy = keyword
	if cfg.ClassifierAddress != "" {
		cls = &classifier.Fallback{
			Primary:   classifier.NewRemoteClient(cfg.ClassifierAddress),
			Secondary: keyword,
			OnError: func(err error) {
				metrics.RecordClassifierFallback()
				sugar.Warnw("remote classifier failed, using keyword fallback", "error", err.Error())
			},
		}
	}

	svc := service.NewService(repo, cat, cls, keyword, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, tokens will not survive a restart")
	}

	limiter := middleware.NewRateLimiter(cfg.SubmitRate, cfg.SubmitBurst, logger)
	h := handler.NewHandler(svc, logger, authMiddleware, limiter)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодический пересчёт статистики платформы
	g.Go(func() error {
		return svc.StartStatsRefresher(ctx, cfg.StatsSchedule)
	})

	// Очистка неактивных ограничителей частоты
	g.Go(func() error {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Cleanup(limiterMaxIdle); n > 0 {
					sugar.Debugw("rate limiters evicted", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		sugar.Infow("starting ecorewards server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
