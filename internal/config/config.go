// Package config loads server settings from RACESIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// Config holds the server settings.
type Config struct {
	Addr           string        `env:"RACESIM_ADDR"             envDefault:"127.0.0.1:8077"`
	DBPath         string        `env:"RACESIM_DB_PATH"          envDefault:"racesim.db"`
	Strategy       string        `env:"RACESIM_STRATEGY"         envDefault:"batched"`
	HouseEdgeBps   uint32        `env:"RACESIM_HOUSE_EDGE_BPS"   envDefault:"500"`
	AdminToken     string        `env:"RACESIM_ADMIN_TOKEN"`
	MaxTicks       int           `env:"RACESIM_MAX_TICKS"        envDefault:"2000"`
	RequestTimeout time.Duration `env:"RACESIM_REQUEST_TIMEOUT"  envDefault:"60s"`
	ScanWorkers    int           `env:"RACESIM_SCAN_WORKERS"     envDefault:"0"`
	CORSOrigins    []string      `env:"RACESIM_CORS_ORIGINS"     envSeparator:","`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("RACESIM_ADDR is empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("RACESIM_DB_PATH is empty"))
	}
	if _, ok := race.Get(c.Strategy); !ok {
		errs = append(errs, fmt.Errorf("RACESIM_STRATEGY: %w: %q (have %v)", race.ErrStrategyNotFound, c.Strategy, race.IDs()))
	}
	if c.HouseEdgeBps > odds.MaxHouseEdgeBps {
		errs = append(errs, fmt.Errorf("RACESIM_HOUSE_EDGE_BPS: %w: %d (max %d)", odds.ErrHouseEdgeOutOfRange, c.HouseEdgeBps, odds.MaxHouseEdgeBps))
	}
	if c.MaxTicks <= 0 || c.MaxTicks > race.MaxTicksLimit {
		errs = append(errs, fmt.Errorf("RACESIM_MAX_TICKS must be in 1..%d, got %d", race.MaxTicksLimit, c.MaxTicks))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RACESIM_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.ScanWorkers < 0 {
		errs = append(errs, fmt.Errorf("RACESIM_SCAN_WORKERS must not be negative, got %d", c.ScanWorkers))
	}
	return errors.Join(errs...)
}

// AdminEnabled reports whether the house-edge admin endpoint accepts writes.
func (c Config) AdminEnabled() bool {
	return c.AdminToken != ""
}
