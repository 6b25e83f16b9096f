package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/api"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/policy/opa"
	"github.com/goodtune/focusguard/internal/systemd"
	"github.com/goodtune/focusguard/internal/usage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the focusguard agent",
	Long:  `Start the agent with the local API, browser bridge and metrics endpoints.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting focusguard")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Str("policy_engine", cfg.Policy.Engine).
		Str("scope", cfg.Tracking.Scope).
		Bool("sync", cfg.Sync.Enabled).
		Msg("Engine initialized")

	if days := cfg.Tracking.RetentionDays; days > 0 && days < analytics.MaxPeriod {
		logger.Warn().
			Int("retention_days", days).
			Int("max_period", analytics.MaxPeriod).
			Msg("Analytics periods longer than the retention window will report pruned days as idle")
	}

	retention, err := usage.NewRetentionScheduler(a.store.Usage(), cfg.Tracking.RetentionDays, cfg.Tracking.PruneTime, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}
	retention.Start()
	defer retention.Stop()

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:     apiAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, a.engine, a.syncer, a.hub, logger)
	if sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsEnabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().
		Str("api", "http://"+apiAddr+"/api/v1").
		Str("bridge", "ws://"+apiAddr+"/ws").
		Msg("focusguard startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := systemd.RunWatchdog(ctx); err != nil {
			logger.Warn().Err(err).Msg("Watchdog stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if reloader, ok := a.evaluator.(*opa.Engine); ok {
				logger.Info().Msg("SIGHUP received, reloading policies...")
				if err := reloader.Reload(); err != nil {
					logger.Error().Err(err).Msg("Failed to reload policies")
				} else {
					logger.Info().Msg("Policies reloaded successfully")
				}
			}
			continue
		}
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("focusguard stopped")
	return nil
}
