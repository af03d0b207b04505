package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/portfolio"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "closingbet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Universe)
	assert.EqualValues(t, "1d", cfg.Timeframe)
	assert.Equal(t, 100000.0, cfg.InitialCapital)
	assert.Equal(t, 0.10, cfg.PositionPct)
	assert.Equal(t, 260, cfg.Regime.MinReferenceBars)
	assert.Equal(t, 72.0, cfg.Regime.GreenThreshold)
	assert.Equal(t, 30.0, cfg.Quality.MaxPenalty)
	assert.Equal(t, 0.03, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, portfolio.PolicyScore, cfg.Portfolio.Policy)
	assert.Equal(t, 4*time.Hour, cfg.Macro.TTL)
	assert.Equal(t, "macro", cfg.Macro.Circuit.Name)
	assert.Equal(t, 3, cfg.Macro.Circuit.FailureThreshold)
	assert.Equal(t, BackendFile, cfg.Cache.Backend)
	assert.Equal(t, ":8090", cfg.HTTP.Addr)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
universe: kospi
initial_capital: 50000
risk:
  max_positions: 3
portfolio:
  policy: atr
  cooldown_bars: 2
macro:
  ttl: 30m
  snapshot_file: macro.yaml
cache:
  backend: sqlite
http:
  addr: ":9100"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kospi", cfg.Universe)
	assert.Equal(t, 50000.0, cfg.InitialCapital)
	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.Equal(t, 0.15, cfg.Risk.MaxDrawdownPct)
	assert.Equal(t, portfolio.PolicyATR, cfg.Portfolio.Policy)
	assert.Equal(t, 2, cfg.Portfolio.CooldownBars)
	assert.Equal(t, 3, cfg.Portfolio.MaxSignalsPerBar)
	assert.Equal(t, 30*time.Minute, cfg.Macro.TTL)
	assert.Equal(t, "macro.yaml", cfg.Macro.SnapshotFile)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
}

func TestLoad_ExplicitZerosSurviveDefaults(t *testing.T) {
	path := writeConfig(t, `
portfolio:
  cooldown_bars: 0
quality:
  min_close_above_pivot_pct: 0
  margin_penalty: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Portfolio.CooldownBars)
	assert.Equal(t, 0.0, cfg.Quality.MinCloseAbovePivotPct)
	assert.Equal(t, 0.0, cfg.Quality.MarginPenalty)
	assert.Equal(t, 10.0, cfg.Quality.WickPenalty)
	assert.Equal(t, 1, cfg.Portfolio.MaxDailyTradesPerSymbol)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CLOSINGBET_CAPITAL", "25000")
	t.Setenv("CLOSINGBET_CACHE_DIR", "/tmp/candles")
	t.Setenv("CLOSINGBET_LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PG_MAX_OPEN_CONNS", "20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25000.0, cfg.InitialCapital)
	assert.Equal(t, "/tmp/candles", cfg.Cache.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "localhost:6379", cfg.Macro.RedisAddr)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad yaml", body: "risk: [", wantErr: "failed to parse config"},
		{name: "bad policy", body: "portfolio:\n  policy: random\n", wantErr: "Policy must be one of"},
		{name: "bad backend", body: "cache:\n  backend: s3\n", wantErr: "Backend must be one of"},
		{name: "inverted thresholds", body: "regime:\n  green_threshold: 40\n", wantErr: "GreenThreshold"},
		{name: "penalty cap above 30", body: "quality:\n  max_penalty: 50\n", wantErr: "MaxPenalty"},
		{name: "postgres without database", body: "cache:\n  backend: postgres\n", wantErr: "requires database.enabled"},
		{name: "enabled database without dsn", body: "database:\n  enabled: true\n", wantErr: "DSN is required"},
		{name: "bad capital env", env: map[string]string{"CLOSINGBET_CAPITAL": "lots"}, wantErr: "CLOSINGBET_CAPITAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "console", cfg.Log.Format)
}
