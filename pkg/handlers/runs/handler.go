package runs

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/models/api"
	"github.com/schedlens/core/pkg/store"
)

// Lister is the slice of the store the runs endpoint reads.
type Lister interface {
	ListRuns(ctx context.Context, jobName string, limit int) ([]store.Run, error)
}

type Handler struct {
	store   Lister
	jobName string
	logger  *logger.Logger
}

func NewHandler(store Lister, jobName string, logger *logger.Logger) *Handler {
	return &Handler{
		store:   store,
		jobName: jobName,
		logger:  logger,
	}
}

// List handles GET /api/runs
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	runs, err := h.store.ListRuns(ctx, h.jobName, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch job runs")
		http.Error(w, "Failed to fetch job runs", http.StatusInternalServerError)
		return
	}

	response := make([]api.RunResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, api.RunResponse{
			ID:              run.ID,
			JobName:         run.JobName,
			TriggerIdentity: run.TriggerIdentity,
			Source:          run.Source,
			StartedAt:       run.StartedAt,
			DurationMS:      run.Duration.Milliseconds(),
			Error:           run.Error,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.Response{
		Success: true,
		Data:    response,
		Meta: map[string]interface{}{
			"total": len(response),
		},
	}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode runs response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
