package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/models/api"
	"github.com/schedlens/core/pkg/store"
)

// Engine is the slice of the scheduling engine health reports on.
type Engine interface {
	IsShutdown() (bool, error)
	Paused() bool
}

// NextFirer reports the job's next planned fire.
type NextFirer interface {
	NextFireTime() (time.Time, bool)
}

// Handler handles health check requests
type Handler struct {
	engine   Engine
	nextFire NextFirer
	pool     *pgxpool.Pool
	logger   *logger.Logger
}

// NewHandler creates a new health handler. nextFire and pool are optional.
func NewHandler(engine Engine, nextFire NextFirer, pool *pgxpool.Pool, log *logger.Logger) *Handler {
	return &Handler{
		engine:   engine,
		nextFire: nextFire,
		pool:     pool,
		logger:   log,
	}
}

// HealthCheck handles the /health endpoint
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	engineState := "running"
	if down, _ := h.engine.IsShutdown(); down {
		engineState = "shutdown"
	} else if h.engine.Paused() {
		engineState = "paused"
	}

	status := "ok"
	if engineState == "shutdown" {
		status = "stopping"
	}

	response := api.HealthResponse{
		Status:    status,
		Engine:    engineState,
		Timestamp: time.Now(),
	}
	if engineState != "shutdown" && h.nextFire != nil {
		if next, ok := h.nextFire.NextFireTime(); ok {
			response.NextFireTime = &next
		}
	}
	if h.pool != nil {
		response.Database = store.GetPoolStats(h.pool)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "health_check_failed").
			Str("endpoint", "/health").
			Msg("Failed to encode health response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	h.logger.Debug().
		Str("action", "health_check").
		Str("endpoint", "/health").
		Str("method", r.Method).
		Str("remote_addr", r.RemoteAddr).
		Int("status_code", 200).
		Dur("duration", time.Since(start)).
		Msg("Health check completed")
}
