// Package metrics exposes prometheus counters and histograms for the
// scheduler, broker, and market data cache, served on a dedicated
// listener separate from the admin HTTP surface.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry holds every metric the engine publishes.
type Registry struct {
	TicksTotal      *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
	TradesTotal     *prometheus.CounterVec
	VetoesTotal     *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheStale      *prometheus.CounterVec
	CircuitBreaker  prometheus.Gauge
	EquityGauge     prometheus.Gauge
}

// NewRegistry constructs and registers every metric against the default
// prometheus registerer.
func NewRegistry() *Registry {
	return &Registry{
		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_scheduler_ticks_total",
			Help: "Strategy ticks processed, by strategy kind and outcome.",
		}, []string{"kind", "outcome"}),
		TickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_scheduler_tick_duration_seconds",
			Help:    "Wall-clock duration of one strategy tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_broker_trades_total",
			Help: "Trades executed by the paper broker, by side.",
		}, []string{"side"}),
		VetoesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_risk_vetoes_total",
			Help: "Orders vetoed by the risk filter, by reason.",
		}, []string{"reason"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cache_hits_total",
			Help: "Fresh cache reads, by source.",
		}, []string{"source"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cache_misses_total",
			Help: "Absent cache reads (fetch failed with no prior value), by source.",
		}, []string{"source"}),
		CacheStale: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cache_stale_total",
			Help: "Stale cache reads (fetch failed, prior value served), by source.",
		}, []string{"source"}),
		CircuitBreaker: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_circuit_breaker_active",
			Help: "1 if the circuit breaker is tripped, else 0.",
		}),
		EquityGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_account_equity",
			Help: "Current account equity in quote currency.",
		}),
	}
}

// ObserveTick records one completed tick's outcome and duration.
func (r *Registry) ObserveTick(kind, outcome string, duration time.Duration) {
	r.TicksTotal.WithLabelValues(kind, outcome).Inc()
	r.TickDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Server serves /metrics on its own address, independent of the admin
// HTTP surface, so scraping never competes with admin traffic.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer builds a metrics Server bound to addr.
func NewServer(addr string, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		log:        log.With().Str("component", "metrics").Logger(),
	}
}

// Start runs the metrics listener in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("metrics server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
