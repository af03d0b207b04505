package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/application/pipeline"
	"github.com/point10890-crypto/closing-bet-sub002/internal/config"
	"github.com/point10890-crypto/closing-bet-sub002/internal/interfaces/http"
	"github.com/point10890-crypto/closing-bet-sub002/internal/net/circuit"
)

func newMonitorCmd() *cobra.Command {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the read-only monitoring server",
		Long: `Serves /health, /status, /status/gate, /status/risk and /metrics.

With --candidates the server replays them in the background, one bar every
--interval, so the endpoints show the coordinator as it evolves.`,
		RunE: runMonitor,
	}

	monitorCmd.Flags().String("addr", "", "Listen address (defaults to http.addr from config)")
	monitorCmd.Flags().Duration("interval", time.Second, "Pause between replayed bars")
	addReplayFlags(monitorCmd)

	return monitorCmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	addr, _ := cmd.Flags().GetString("addr")
	interval, _ := cmd.Flags().GetDuration("interval")
	candidates, _ := cmd.Flags().GetString("candidates")

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var coord *pipeline.Coordinator
	var replay *replayer
	if candidates != "" {
		if replay, err = prepareReplay(cmd, svc); err != nil {
			return err
		}
		coord = replay.coord
	} else if coord, err = newCoordinator(svc); err != nil {
		return err
	}

	serverCfg := http.DefaultServerConfig()
	serverCfg.Addr = cfg.HTTP.Addr
	if addr != "" {
		serverCfg.Addr = addr
	}
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout

	server := http.NewServer(serverCfg, coord, svc.metrics, healthChecks(svc))

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start()
	}()

	if replay != nil {
		go func() {
			if err := replay.run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("replay: %w", err)
				return
			}
			st := coord.Status()
			log.Info().Int("bars", len(replay.bars)).Float64("equity", st.Risk.Equity).
				Str("risk", st.Risk.State).Msg("Replay finished, still serving")
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Monitoring server on http://%s (Ctrl+C to stop)\n", serverCfg.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	return runErr
}

// healthChecks probes the cache backend, the database, redis and the macro breaker
func healthChecks(svc *services) *http.HealthHandler {
	health := http.NewHealthHandler(version)

	if svc.cfg.Cache.Backend == config.BackendFile {
		dir := svc.cfg.Cache.Dir
		health.AddCheck("cache_dir", true, func(context.Context) error {
			return os.MkdirAll(dir, 0o755)
		})
	}
	health.AddCheck("cache_keys", true, func(ctx context.Context) error {
		_, err := svc.cache.Keys(ctx)
		return err
	})

	if svc.db.IsEnabled() {
		health.AddCheck("database", true, func(ctx context.Context) error {
			check := svc.db.Health().Health(ctx)
			if !check.Healthy {
				return fmt.Errorf("database unhealthy: %v", check.Errors)
			}
			return nil
		})
	}

	if svc.redis != nil {
		health.AddCheck("redis", false, func(ctx context.Context) error {
			return svc.redis.Ping(ctx).Err()
		})
	}

	if svc.breaker != nil {
		breaker := svc.breaker
		health.AddCheck("macro_source", false, func(context.Context) error {
			if st := breaker.State(); st != circuit.StateClosed {
				return fmt.Errorf("circuit %s is %s", breaker.Name(), st)
			}
			return nil
		})
	}
	return health
}
