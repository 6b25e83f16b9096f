// Package api serves the local command protocol, the interstitial page and
// the browser bridge endpoint.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/focusguard/internal/agent"
	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/backend"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Engine is the command surface of agent.Engine.
type Engine interface {
	AddProtectedSite(ctx context.Context, in site.RuleInput) (*site.Rule, error)
	ListProtectedSites(ctx context.Context) ([]site.Rule, error)
	RemoveProtectedSite(ctx context.Context, domain string) error
	VerifyPassword(ctx context.Context, domain, password string) (bool, error)
	Unlock(ctx context.Context, tab int, domain, password string) (bool, error)
	HandleCancel(ctx context.Context, domain string) []int
	CancelTab(ctx context.Context, tab int) error
	GetAnalytics(ctx context.Context, period int) (analytics.Report, error)
	ClearData(ctx context.Context) error
	ForceSyncAnalytics(ctx context.Context) (backend.AnalyticsResult, error)
	SyncProtectedSites(ctx context.Context) (backend.SitesResult, error)
	Status(ctx context.Context) (agent.Status, error)
}

// Account manages the backend session.
type Account interface {
	Login(ctx context.Context, accountToken string) (*storage.AuthState, error)
	Logout(ctx context.Context) error
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server is the local HTTP server.
type Server struct {
	config   Config
	engine   Engine
	account  Account
	bridge   http.Handler
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates the server. bridge may be nil when no browser endpoint
// is served.
func NewServer(cfg Config, engine Engine, account Account, bridge http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		config:  cfg,
		engine:  engine,
		account: account,
		bridge:  bridge,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.config.AllowedOrigins))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.bridge != nil {
		s.router.Handle("/ws", s.bridge).Methods("GET")
	}

	s.router.HandleFunc("/blocked", s.handleBlockedPage).Methods("GET")
	s.router.HandleFunc("/blocked/unlock", s.handleBlockedUnlock).Methods("POST")
	s.router.HandleFunc("/blocked/cancel", s.handleBlockedCancel).Methods("POST")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/commands", s.handleCommand).Methods("POST", "OPTIONS")

	v1.HandleFunc("/sites", s.handleListSites).Methods("GET")
	v1.HandleFunc("/sites", s.handleAddSite).Methods("POST", "OPTIONS")
	v1.HandleFunc("/sites/{domain}", s.handleRemoveSite).Methods("DELETE", "OPTIONS")
	v1.HandleFunc("/sites/{domain}/verify", s.handleVerify).Methods("POST", "OPTIONS")
	v1.HandleFunc("/sites/{domain}/cancel", s.handleCancel).Methods("POST", "OPTIONS")

	v1.HandleFunc("/analytics", s.handleAnalytics).Methods("GET")
	v1.HandleFunc("/data", s.handleClearData).Methods("DELETE", "OPTIONS")

	v1.HandleFunc("/sync/analytics", s.handleSyncAnalytics).Methods("POST", "OPTIONS")
	v1.HandleFunc("/sync/sites", s.handleSyncSites).Methods("POST", "OPTIONS")

	v1.HandleFunc("/auth/login", s.handleLogin).Methods("POST", "OPTIONS")
	v1.HandleFunc("/auth/logout", s.handleLogout).Methods("POST", "OPTIONS")

	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves in the background.
func (s *Server) Start() error {
	if s.listener != nil {
		s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting API server (systemd socket)")
		go func() {
			if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("API server error")
			}
		}()
		return nil
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.ListenAddr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "ok"}})
}
