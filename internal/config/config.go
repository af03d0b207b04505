// Package config loads the application configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/infrastructure/db"
	"github.com/point10890-crypto/closing-bet-sub002/internal/net/circuit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/net/ratelimit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/portfolio"
	"github.com/point10890-crypto/closing-bet-sub002/internal/quality"
	"github.com/point10890-crypto/closing-bet-sub002/internal/regime"
	"github.com/point10890-crypto/closing-bet-sub002/internal/risk"
	"github.com/point10890-crypto/closing-bet-sub002/internal/validation"
)

// Cache backends
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// AppConfig is the complete runtime configuration
type AppConfig struct {
	Universe       string               `yaml:"universe" default:"default" validate:"required"`
	Timeframe      interfaces.Timeframe `yaml:"timeframe" default:"1d" validate:"oneof=1m 5m 15m 1h 4h 1d 1w"`
	InitialCapital float64              `yaml:"initial_capital" default:"100000" validate:"gt=0"`
	PositionPct    float64              `yaml:"position_pct" default:"0.10" validate:"gt=0,lte=1"`

	Regime    regime.Config    `yaml:"regime"`
	Quality   quality.Config   `yaml:"quality"`
	Risk      risk.Limits      `yaml:"risk"`
	Portfolio portfolio.Config `yaml:"portfolio"`
	Macro     MacroConfig      `yaml:"macro"`
	Cache     CacheConfig      `yaml:"cache"`
	Database  db.Config        `yaml:"database"`
	HTTP      HTTPConfig       `yaml:"http"`
	Log       LogConfig        `yaml:"log"`
}

// MacroConfig wires the macro snapshot source and its guards
type MacroConfig struct {
	SnapshotFile   string           `yaml:"snapshot_file"`
	ConditionsFile string           `yaml:"conditions_file"`
	TTL            time.Duration    `yaml:"ttl" default:"4h" validate:"gt=0"`
	RedisAddr      string           `yaml:"redis_addr"`
	RedisPrefix    string           `yaml:"redis_prefix" default:"macro"`
	Circuit        circuit.Config   `yaml:"circuit"`
	RateLimit      ratelimit.Config `yaml:"rate_limit"`
}

// CacheConfig selects the candle cache backend and the universe snapshot directory
type CacheConfig struct {
	Backend     string `yaml:"backend" default:"file" validate:"oneof=file sqlite postgres"`
	Dir         string `yaml:"dir" default:"data/cache"`
	SQLitePath  string `yaml:"sqlite_path" default:"data/cache.db"`
	UniverseDir string `yaml:"universe_dir" default:"data/universe"`
}

// HTTPConfig configures the monitoring server
type HTTPConfig struct {
	Addr         string        `yaml:"addr" default:":8090"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s" validate:"gt=0"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
}

// Default returns a configuration with every default applied
func Default() *AppConfig {
	cfg := &AppConfig{}
	if err := validation.Defaults(cfg); err != nil {
		panic(err)
	}
	cfg.Macro.Circuit.Name = "macro"
	return cfg
}

// Load starts from defaults, overlays path (optional), applies environment overrides and validates.
// Values present in the file win over defaults, explicit zeros included.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := validation.Defaults(cfg); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if cfg.Macro.Circuit.Name == "" {
		cfg.Macro.Circuit.Name = "macro"
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CLOSINGBET_*, REDIS_ADDR and PG_* variables
func ApplyEnvOverrides(cfg *AppConfig) error {
	if v := os.Getenv("CLOSINGBET_UNIVERSE"); v != "" {
		cfg.Universe = v
	}
	if v := os.Getenv("CLOSINGBET_TIMEFRAME"); v != "" {
		cfg.Timeframe = interfaces.Timeframe(v)
	}
	if v := os.Getenv("CLOSINGBET_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CLOSINGBET_CAPITAL: %w", err)
		}
		cfg.InitialCapital = capital
	}
	if v := os.Getenv("CLOSINGBET_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CLOSINGBET_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("CLOSINGBET_UNIVERSE_DIR"); v != "" {
		cfg.Cache.UniverseDir = v
	}
	if v := os.Getenv("CLOSINGBET_MACRO_FILE"); v != "" {
		cfg.Macro.SnapshotFile = v
	}
	if v := os.Getenv("CLOSINGBET_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CLOSINGBET_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Macro.RedisAddr = v
	}

	db.ApplyEnvOverrides(&cfg.Database)
	return nil
}

// Validate checks struct tags plus the cross-field rules tags cannot express
func (c *AppConfig) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Cache.Backend == BackendPostgres && !c.Database.Enabled {
		return fmt.Errorf("cache backend %q requires database.enabled", BackendPostgres)
	}
	return nil
}
