package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8077", cfg.Addr)
	assert.Equal(t, "racesim.db", cfg.DBPath)
	assert.Equal(t, "batched", cfg.Strategy)
	assert.Equal(t, uint32(500), cfg.HouseEdgeBps)
	assert.Equal(t, 2000, cfg.MaxTicks)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Zero(t, cfg.ScanWorkers)
	assert.False(t, cfg.AdminEnabled())
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RACESIM_ADDR", ":9000")
	t.Setenv("RACESIM_DB_PATH", ":memory:")
	t.Setenv("RACESIM_STRATEGY", "sequential")
	t.Setenv("RACESIM_HOUSE_EDGE_BPS", "250")
	t.Setenv("RACESIM_ADMIN_TOKEN", "s3cret")
	t.Setenv("RACESIM_REQUEST_TIMEOUT", "5s")
	t.Setenv("RACESIM_SCAN_WORKERS", "3")
	t.Setenv("RACESIM_CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "sequential", cfg.Strategy)
	assert.Equal(t, uint32(250), cfg.HouseEdgeBps)
	assert.True(t, cfg.AdminEnabled())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.ScanWorkers)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("RACESIM_MAX_TICKS", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"), "got %v", err)
}

func TestValidate(t *testing.T) {
	base := Config{
		Addr:           ":8077",
		DBPath:         ":memory:",
		Strategy:       "batched",
		HouseEdgeBps:   500,
		MaxTicks:       2000,
		RequestTimeout: time.Second,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Strategy = "photo-finish"
	require.ErrorIs(t, bad.Validate(), race.ErrStrategyNotFound)

	bad = base
	bad.HouseEdgeBps = odds.MaxHouseEdgeBps + 1
	require.ErrorIs(t, bad.Validate(), odds.ErrHouseEdgeOutOfRange)

	bad = base
	bad.MaxTicks = race.MaxTicksLimit + 1
	bad.ScanWorkers = -1
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RACESIM_MAX_TICKS")
	assert.Contains(t, err.Error(), "RACESIM_SCAN_WORKERS")
}
