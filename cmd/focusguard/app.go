package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goodtune/focusguard/internal/agent"
	"github.com/goodtune/focusguard/internal/backend"
	"github.com/goodtune/focusguard/internal/block"
	"github.com/goodtune/focusguard/internal/bridge"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/gate"
	"github.com/goodtune/focusguard/internal/matcher"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/policy/opa"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/storage/bolt"
	"github.com/goodtune/focusguard/internal/storage/redis"
	"github.com/rs/zerolog"
)

// app is the wired set of components shared by serve and the offline commands.
type app struct {
	cfg       *config.Config
	store     storage.Store
	evaluator policy.Evaluator
	hub       *bridge.Hub
	syncer    *backend.Syncer
	engine    *agent.Engine
	logger    zerolog.Logger
}

// newApp loads configuration and wires every component. The caller owns
// app.close.
func newApp(logger zerolog.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return buildApp(cfg, logger)
}

func buildApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{cfg: cfg, store: store, logger: logger}

	a.evaluator, err = newEvaluator(cfg.Policy, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize policy evaluator: %w", err)
	}

	m, err := matcher.New(cfg.Tracking.MatcherCacheSize, cfg.Tracking.Bypass)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize matcher: %w", err)
	}

	var client *backend.Client
	if cfg.Sync.Enabled {
		client = backend.NewClient(cfg.Sync.BaseURL, parseDuration(cfg.Sync.Timeout, backend.DefaultTimeout), logger)
	}
	a.syncer = backend.NewSyncer(client, store, backend.Config{
		Enabled:            cfg.Sync.Enabled,
		Timeout:            parseDuration(cfg.Sync.Timeout, backend.DefaultTimeout),
		TokenCheckInterval: parseDuration(cfg.Sync.TokenCheckInterval, backend.DefaultTokenCheckInterval),
		MaxInFlight:        cfg.Sync.MaxInFlight,
	}, logger)

	a.hub = bridge.NewHub(cfg.Server.AllowedOrigins, logger)
	presenter := block.NewPresenter(a.hub, baseURL(cfg.Server), logger)

	a.engine = agent.New(agent.Deps{
		Store:     store,
		Evaluator: a.evaluator,
		Presenter: presenter,
		Syncer:    a.syncer,
		Gate:      gate.New(parseDuration(cfg.Security.SessionWindow, gate.DefaultSessionWindow), cfg.Security.PasswordAttemptsPerMinute),
		Matcher:   m,
	}, agent.Config{
		Scope:        cfg.Tracking.Scope,
		TickInterval: parseDuration(cfg.Tracking.TickInterval, time.Second),
	}, logger)
	a.hub.SetHandler(a.engine)

	return a, nil
}

// close stops timers, waits for in-flight sync calls and closes the store.
func (a *app) close() {
	a.engine.Close()
	a.syncer.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close storage")
	}
}

func newEvaluator(cfg config.PolicyConfig, logger zerolog.Logger) (policy.Evaluator, error) {
	if cfg.Engine == config.EngineOPA {
		return opa.NewEngine(opa.Config{PolicyDir: cfg.OPAPolicyDir}, logger)
	}
	return policy.NewStateMachine(logger), nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func baseURL(cfg config.ServerConfig) string {
	host := cfg.BindAddress
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.HTTPPort)
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// quietLogger is used by the one-shot commands.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
