// Package config содержит логику чтения конфигурации сервиса вознаграждений.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultStatsSchedule = "@every 1m"
	defaultSubmitRate    = 1.0
	defaultSubmitBurst   = 5
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string  `env:"RUN_ADDRESS"`
	DatabaseURI       string  `env:"DATABASE_URI"`
	ClassifierAddress string  `env:"CLASSIFIER_ADDRESS"`
	JWTSecret         string  `env:"JWT_SECRET"`
	CatalogFile       string  `env:"CATALOG_FILE"`
	StatsSchedule     string  `env:"STATS_SCHEDULE"`
	SubmitRate        float64 `env:"SUBMIT_RATE"`
	SubmitBurst       int     `env:"SUBMIT_BURST"`
	LogLevel          string  `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI: postgres://..., sqlite:path or empty for in-memory")
	flag.StringVar(&cfg.ClassifierAddress, "r", "", "device recognition service address")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for signing access tokens")
	flag.StringVar(&cfg.CatalogFile, "c", "", "YAML file overriding the device catalog")
	flag.StringVar(&cfg.StatsSchedule, "cron", defaultStatsSchedule, "cron schedule for platform stats refresh")
	flag.Float64Var(&cfg.SubmitRate, "rate", defaultSubmitRate, "recycling submissions per second per user")
	flag.IntVar(&cfg.SubmitBurst, "burst", defaultSubmitBurst, "recycling submission burst per user")
	flag.StringVar(&cfg.LogLevel, "l", "info", "log level")

	flag.Parse()

	cfg.overlay(envCfg)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.StatsSchedule == "" {
		cfg.StatsSchedule = defaultStatsSchedule
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) overlay(e Config) {
	if e.RunAddress != "" {
		c.RunAddress = e.RunAddress
	}
	if e.DatabaseURI != "" {
		c.DatabaseURI = e.DatabaseURI
	}
	if e.ClassifierAddress != "" {
		c.ClassifierAddress = e.ClassifierAddress
	}
	if e.JWTSecret != "" {
		c.JWTSecret = e.JWTSecret
	}
	if e.CatalogFile != "" {
		c.CatalogFile = e.CatalogFile
	}
	if e.StatsSchedule != "" {
		c.StatsSchedule = e.StatsSchedule
	}
	if e.SubmitRate != 0 {
		c.SubmitRate = e.SubmitRate
	}
	if e.SubmitBurst != 0 {
		c.SubmitBurst = e.SubmitBurst
	}
	if e.LogLevel != "" {
		c.LogLevel = e.LogLevel
	}
}

func (c *Config) validate() error {
	if c.SubmitRate <= 0 {
		return fmt.Errorf("submit rate must be positive, got %v", c.SubmitRate)
	}
	if c.SubmitBurst < 1 {
		return fmt.Errorf("submit burst must be at least 1, got %d", c.SubmitBurst)
	}
	return nil
}
