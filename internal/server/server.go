// Package server provides the HTTP server and routing for stratlab.
// The engine stays usable as a library; this is a thin adapter over
// the evaluation, walk-forward, optimizer and runs services.
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

	"github.com/aristath/stratlab/internal/database"
	"github.com/aristath/stratlab/internal/modules/backtest"
	"github.com/aristath/stratlab/internal/modules/optimizer"
	"github.com/aristath/stratlab/internal/modules/robustness"
	"github.com/aristath/stratlab/internal/modules/runs"
	"github.com/aristath/stratlab/internal/modules/signals"
	"github.com/aristath/stratlab/internal/modules/walkforward"
)

// Config holds server configuration.
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	ExportDir   string
	Registry    *signals.Registry
	Backtest    *backtest.Service
	WalkForward *walkforward.Driver
	Optimizer   *optimizer.GridSearch
	Robustness  *robustness.Analyzer
	Runs        *runs.Repository
	Backup      *runs.S3Backup // nil disables backup
	DB          *database.DB   // optional; health endpoint pings it
}

// Server represents the HTTP server.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	startupTime time.Time
	exportDir   string

	registry    *signals.Registry
	backtest    *backtest.Service
	walkforward *walkforward.Driver
	optimizer   *optimizer.GridSearch
	robustness  *robustness.Analyzer
	runs        *runs.Repository
	backup      *runs.S3Backup
	db          *database.DB
	hub         *ProgressHub
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		startupTime: time.Now(),
		exportDir:   cfg.ExportDir,
		registry:    cfg.Registry,
		backtest:    cfg.Backtest,
		walkforward: cfg.WalkForward,
		optimizer:   cfg.Optimizer,
		robustness:  cfg.Robustness,
		runs:        cfg.Runs,
		backup:      cfg.Backup,
		db:          cfg.DB,
		hub:         NewProgressHub(cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // grid searches are slow by nature
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub exposes the progress hub so background drivers can publish.
func (s *Server) Hub() *ProgressHub { return s.hub }

// Router exposes the router for tests.
func (s *Server) Router() http.Handler { return s.router }

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

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

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws/progress", s.hub.HandleWS)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/backtest", s.handleBacktest)
		r.Post("/walkforward", s.handleWalkForward)
		r.Post("/optimize", s.handleOptimize)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Delete("/{id}", s.handleDeleteRun)
		})
	})
}

// loggingMiddleware logs each request with duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
