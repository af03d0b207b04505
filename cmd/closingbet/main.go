package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/config"
)

const (
	appName = "closingbet"
	version = "v1.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Signal gate and risk-coordinated execution layer",
		Version: version,
		Long: `closingbet decides whether breakout candidates may be traded.

Candidates pass a market regime gate, a macro condition gate and a breakout
quality filter, then compete for limited slots under portfolio risk limits.
Cached candle series keep every backtest reproducible.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config (defaults and env only when empty)")
	rootCmd.PersistentFlags().Bool("json", false, "Force JSON output even on a terminal")

	rootCmd.AddCommand(newGateCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newUniverseCmd())
	rootCmd.AddCommand(newTimingCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newMonitorCmd())

	return rootCmd
}

type configKey struct{}

// configFrom returns the configuration loaded before the command ran
func configFrom(cmd *cobra.Command) *config.AppConfig {
	if ctx := cmd.Context(); ctx != nil {
		if cfg, ok := ctx.Value(configKey{}).(*config.AppConfig); ok {
			return cfg
		}
	}
	return config.Default()
}

// loadConfig reads --config once per invocation
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}
