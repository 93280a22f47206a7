package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/schedlens/core/internal/config"
	"github.com/schedlens/core/pkg/cronengine"
	"github.com/schedlens/core/pkg/handlers/health"
	"github.com/schedlens/core/pkg/handlers/runs"
	"github.com/schedlens/core/pkg/handlers/schedule"
	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/middleware"
	"github.com/schedlens/core/pkg/notifier"
	"github.com/schedlens/core/pkg/policy"
	"github.com/schedlens/core/pkg/scheduling"
	"github.com/schedlens/core/pkg/store"
)

// Deps carries the wired components the API serves.
type Deps struct {
	Config     *config.Config
	Controller *scheduling.Controller
	Engine     *cronengine.Engine
	Policy     *policy.SchedulerFacade
	Store      *store.Store
	Notifier   *notifier.Notifier
	Pool       *pgxpool.Pool
}

// Server represents the API server
type Server struct {
	router   *http.ServeMux
	httpSrv  *http.Server
	port     string
	logger   *logger.Logger
	handlers struct {
		health   *health.Handler
		schedule *schedule.Handler
		runs     *runs.Handler
	}
	triggerLimiter *rate.Limiter
}

// New creates a new server instance
func New(deps Deps, log *logger.Logger) *Server {
	cfg := deps.Config

	server := &Server{
		router: http.NewServeMux(),
		port:   cfg.Server.Port,
		logger: log,
		triggerLimiter: rate.NewLimiter(
			rate.Limit(cfg.Server.TriggerRPS), cfg.Server.TriggerRPS),
	}

	server.handlers.health = health.NewHandler(deps.Engine, deps.Controller, deps.Pool, log)
	server.handlers.schedule = schedule.NewHandler(schedule.Deps{
		Controller: deps.Controller,
		Engine:     deps.Engine,
		Policy:     deps.Policy,
		Auditor:    deps.Store,
		Notifier:   deps.Notifier,
		Job:        cfg.Job,
		Logger:     log,
	})
	server.handlers.runs = runs.NewHandler(deps.Store, cfg.Job.Name, log)

	server.setupRoutes()

	server.httpSrv = &http.Server{
		Addr:              ":" + server.port,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.wrap(s.handlers.health.HealthCheck))

	// Simple root endpoint
	s.router.HandleFunc("/", s.wrap(func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintf(w, "Schedule Controller - OK"); err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
		}
	}))

	// Schedule endpoints
	s.router.HandleFunc("/api/schedule", s.wrap(s.handlers.schedule.Schedule))
	s.router.HandleFunc("/api/schedule/pause", s.wrap(s.handlers.schedule.Pause))
	s.router.HandleFunc("/api/schedule/resume", s.wrap(s.handlers.schedule.Resume))
	s.router.HandleFunc("/api/schedule/trigger", s.wrap(
		middleware.RateLimit(s.triggerLimiter, s.handlers.schedule.Trigger)))
	s.router.HandleFunc("/api/schedule/validate", s.wrap(s.handlers.schedule.Validate))

	// History endpoints
	s.router.HandleFunc("/api/runs", s.wrap(s.handlers.runs.List))
	s.router.HandleFunc("/api/events", s.wrap(s.handlers.schedule.Events))
}

// wrap applies the middleware every route shares.
func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return middleware.CORS(middleware.RequestID(next))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("port", s.port).
		Msg("Starting schedule API server")

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed to start on port %s: %w", s.port, err)
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info().
		Str("action", "server_stopped").
		Msg("API server stopped")
	return nil
}
