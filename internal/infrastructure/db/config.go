package db

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ApplyEnvOverrides applies PG_* variables. Unparseable values are logged and ignored.
func ApplyEnvOverrides(config *Config) {
	envString(&config.DSN, "PG_DSN")
	envBool(&config.Enabled, "PG_ENABLED")
	envBool(&config.AutoMigrate, "PG_AUTO_MIGRATE")
	envInt(&config.MaxOpenConns, "PG_MAX_OPEN_CONNS")
	envInt(&config.MaxIdleConns, "PG_MAX_IDLE_CONNS")
	envDuration(&config.ConnMaxLifetime, "PG_CONN_MAX_LIFETIME")
	envDuration(&config.ConnMaxIdleTime, "PG_CONN_MAX_IDLE_TIME")
	envDuration(&config.QueryTimeout, "PG_QUERY_TIMEOUT")
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, name string) {
	envParse(name, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
		return err
	})
}

func envInt(dst *int, name string) {
	envParse(name, func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
		return err
	})
}

func envDuration(dst *time.Duration, name string) {
	envParse(name, func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	})
}

func envParse(name string, set func(string) error) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if err := set(v); err != nil {
		log.Warn().Str("var", name).Str("value", v).Err(err).Msg("Ignoring invalid database setting")
	}
}

// Validate checks pool settings and the DSN requirement
func (c Config) Validate() error {
	switch {
	case c.Enabled && c.DSN == "":
		return fmt.Errorf("database DSN is required when database is enabled")
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive")
	case c.MaxIdleConns < 0:
		return fmt.Errorf("max_idle_conns cannot be negative")
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns cannot exceed max_open_conns")
	case c.QueryTimeout <= 0:
		return fmt.Errorf("query_timeout must be positive")
	}
	return nil
}
