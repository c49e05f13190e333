package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracker metrics
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_flushes_total",
			Help: "Total tracker flushes by outcome",
		},
		[]string{"outcome"},
	)

	TrackedSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_tracked_seconds_total",
			Help: "Total seconds attributed to sites",
		},
		[]string{"site"},
	)

	// Usage buffer metrics
	SiteEntriesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabtime_site_entries_evicted_total",
			Help: "Site entries evicted from the local usage buffer",
		},
	)

	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabtime_persist_failures_total",
			Help: "Failed durable writes of the usage buffer",
		},
	)

	// Blocklist metrics
	BlocklistRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_blocklist_refreshes_total",
			Help: "Blocklist refreshes by resulting source",
		},
		[]string{"source"},
	)

	BlockedLookups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabtime_blocked_lookups_total",
			Help: "URL lookups answered as blocked",
		},
	)

	// Sync metrics
	SyncPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_sync_pushes_total",
			Help: "Per-site sync push requests by result",
		},
		[]string{"result"},
	)

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_sync_runs_total",
			Help: "Login sync runs by result",
		},
		[]string{"result"},
	)

	// DNS sinkhole metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_dns_queries_total",
			Help: "DNS queries handled by the sinkhole",
		},
		[]string{"action"},
	)

	DNSUpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_dns_upstream_errors_total",
			Help: "DNS upstream query errors",
		},
		[]string{"upstream"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		FlushesTotal,
		TrackedSecondsTotal,
		SiteEntriesEvicted,
		PersistFailures,
		BlocklistRefreshes,
		BlockedLookups,
		SyncPushesTotal,
		SyncRunsTotal,
		DNSQueriesTotal,
		DNSUpstreamErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
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

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
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
