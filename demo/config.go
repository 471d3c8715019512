// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sqlfluent"
)

// Config describes the database the demo runs on.
type Config struct {
	// Driver is one of "sqlite3", "mysql" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Placeholders is one of "named", "question" or "dollar". It defaults to
	// the style the driver understands.
	Placeholders       string `yaml:"placeholders"`
	LogLevel           string `yaml:"log_level"`
	StatementCacheSize int    `yaml:"statement_cache_size"`
	// Seed creates the demo tables before running.
	Seed bool `yaml:"seed"`
}

func defaultConfig() Config {
	return Config{
		Driver:             "sqlite3",
		DSN:                ":memory:",
		LogLevel:           "info",
		StatementCacheSize: sqlfluent.DefaultStatementCacheSize,
		Seed:               true,
	}
}

var driverPlaceholders = map[string]string{
	"sqlite3":  "named",
	"mysql":    "question",
	"postgres": "dollar",
}

var placeholderStyles = map[string]sqlfluent.Placeholders{
	"named":    sqlfluent.NamedPlaceholders,
	"question": sqlfluent.QuestionPlaceholders,
	"dollar":   sqlfluent.DollarPlaceholders,
}

// Load reads the configuration at path on top of the defaults. An empty path
// gives the defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	normalizeConfig(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalizeConfig(cfg *Config) {
	if cfg.Placeholders == "" {
		cfg.Placeholders = driverPlaceholders[cfg.Driver]
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StatementCacheSize < 0 {
		cfg.StatementCacheSize = 0
	}
}

func (cfg Config) validate() error {
	if _, ok := driverPlaceholders[cfg.Driver]; !ok {
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return fmt.Errorf("dsn is required for driver %q", cfg.Driver)
	}
	if _, ok := placeholderStyles[cfg.Placeholders]; !ok {
		return fmt.Errorf("unknown placeholder style %q", cfg.Placeholders)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// Options returns the database options the configuration asks for.
func (cfg Config) Options(logger *zap.Logger) []sqlfluent.Option {
	return []sqlfluent.Option{
		sqlfluent.WithLogger(logger),
		sqlfluent.WithPlaceholders(placeholderStyles[cfg.Placeholders]),
		sqlfluent.WithStatementCacheSize(cfg.StatementCacheSize),
	}
}

// Logger builds a development logger at the configured level.
func (cfg Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build(zap.Fields(zap.String("driver", cfg.Driver)))
}
