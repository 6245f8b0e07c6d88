// Package server is the thin administration HTTP surface: strategy CRUD,
// read-only views over positions/trades/run logs, and the handful of
// control actions (manual run, pause/resume/stop, circuit-breaker reset)
// the scheduler itself does not expose over any other channel.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/broker"
	"github.com/kryptotron/engine/internal/persistence"
	"github.com/kryptotron/engine/internal/scheduler"
)

// Config holds everything the admin surface needs to construct its
// routes.
type Config struct {
	Port        int
	Log         zerolog.Logger
	DevMode     bool
	Strategies  *persistence.StrategyRepository
	Positions   *persistence.PositionRepository
	Trades      *persistence.TradeRepository
	RunLogs     *persistence.RunLogRepository
	Signals     *persistence.SignalRepository
	Accounts    *persistence.AccountRepository
	Broker      *broker.Broker
	Coordinator *scheduler.Coordinator
}

// Server is the admin HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	strategies *persistence.StrategyRepository
	positions  *persistence.PositionRepository
	trades     *persistence.TradeRepository
	runlogs    *persistence.RunLogRepository
	signals    *persistence.SignalRepository
	accounts   *persistence.AccountRepository
	broker     *broker.Broker
	coord      *scheduler.Coordinator
}

// New constructs the admin Server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		strategies: cfg.Strategies,
		positions:  cfg.Positions,
		trades:     cfg.Trades,
		runlogs:    cfg.RunLogs,
		signals:    cfg.Signals,
		accounts:   cfg.Accounts,
		broker:     cfg.Broker,
		coord:      cfg.Coordinator,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", s.handleListStrategies)
			r.Post("/", s.handleCreateStrategy)
			r.Get("/{id}", s.handleGetStrategy)
			r.Put("/{id}", s.handleUpdateStrategy)
			r.Delete("/{id}", s.handleDeleteStrategy)
			r.Post("/{id}/run", s.handleManualRun)
			r.Post("/{id}/pause", s.handlePauseStrategy)
			r.Post("/{id}/resume", s.handleResumeStrategy)
			r.Post("/{id}/stop", s.handleStopStrategy)
			r.Get("/{id}/run-logs", s.handleStrategyRunLogs)
			r.Get("/{id}/signals", s.handleStrategySignals)
		})

		r.Route("/positions", func(r chi.Router) {
			r.Get("/", s.handleListPositions)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Get("/", s.handleListTrades)
		})

		r.Route("/account", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/circuit-breaker/reset", s.handleResetCircuitBreaker)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/performance", s.handlePerformance)
		})
	})
}

// Start runs the admin HTTP server, blocking until it stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("admin server listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
