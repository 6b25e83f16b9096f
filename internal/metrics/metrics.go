package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tab lifecycle metrics
	TabEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_tab_events_total",
			Help: "Total tab events received from the browser",
		},
		[]string{"type"},
	)

	// Policy metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_decisions_total",
			Help: "Total policy evaluations by resulting state",
		},
		[]string{"state"},
	)

	BlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_blocks_total",
			Help: "Total interstitials shown",
		},
		[]string{"reason"},
	)

	PasswordAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_password_attempts_total",
			Help: "Password verification attempts",
		},
		[]string{"result"},
	)

	// Usage metrics
	UsageSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_usage_seconds_total",
			Help: "Foreground seconds committed to the usage ledger",
		},
		[]string{"domain"},
	)

	ActiveTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusguard_active_timers",
			Help: "Number of running per-tab usage timers",
		},
	)

	// Sync metrics
	SyncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_sync_events_total",
			Help: "Backend sync events by kind and result",
		},
		[]string{"kind", "result"},
	)

	// API metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_commands_total",
			Help: "Inbound commands processed",
		},
		[]string{"action", "result"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "focusguard_request_duration_seconds",
			Help:    "Local HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		TabEventsTotal,
		DecisionsTotal,
		BlocksTotal,
		PasswordAttemptsTotal,
		UsageSecondsTotal,
		ActiveTimers,
		SyncEventsTotal,
		CommandsTotal,
		RequestDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // set when systemd passed us a socket
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves metrics in the background
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
