package schedule

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/schedlens/core/internal/config"
	"github.com/schedlens/core/pkg/cronengine"
	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/models/api"
	"github.com/schedlens/core/pkg/notifier"
	"github.com/schedlens/core/pkg/scheduling"
	"github.com/schedlens/core/pkg/store"
)

// Controller is the slice of the schedule controller the API drives.
type Controller interface {
	ScheduleJob(cronExpression string) error
	RescheduleJob(cronExpression string) error
	PauseJob() error
	ResumeJob() error
	TriggerJob() error
	NextFireTime() (time.Time, bool)
	JobKey() scheduling.JobKey
	TriggerIdentity() scheduling.TriggerIdentity
}

// Engine is the read-only engine view used for status reporting.
type Engine interface {
	Exists(key scheduling.JobKey) (bool, error)
	IsShutdown() (bool, error)
	Paused() bool
	TriggersOf(key scheduling.JobKey) ([]scheduling.TriggerStatus, error)
}

// Policy reads and flips the misfire policy.
type Policy interface {
	IsMisfireFireAndProceed() bool
	SetMisfireFireAndProceed(v bool)
}

// Auditor persists and lists schedule change events.
type Auditor interface {
	InsertScheduleEvent(ctx context.Context, event store.ScheduleEvent) error
	ListScheduleEvents(ctx context.Context, jobName string, limit int) ([]store.ScheduleEvent, error)
}

// Notify delivers outbound schedule notifications.
type Notify interface {
	Notify(ctx context.Context, event notifier.Event)
}

// Deps wires a Handler.
type Deps struct {
	Controller Controller
	Engine     Engine
	Policy     Policy
	Auditor    Auditor
	Notifier   Notify
	Job        config.JobConfig
	Logger     *logger.Logger
}

// Handler serves the schedule endpoints for the one managed job.
type Handler struct {
	controller Controller
	engine     Engine
	policy     Policy
	auditor    Auditor
	notifier   Notify
	job        config.JobConfig
	logger     *logger.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		controller: deps.Controller,
		engine:     deps.Engine,
		policy:     deps.Policy,
		auditor:    deps.Auditor,
		notifier:   deps.Notifier,
		job:        deps.Job,
		logger:     deps.Logger,
	}
}

// Schedule handles GET, POST and PUT /api/schedule
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPost:
		h.create(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	resp := api.ScheduleResponse{
		JobName:         h.job.Name,
		Description:     h.job.Description,
		TriggerIdentity: string(h.controller.TriggerIdentity()),
		Misfire:         h.misfire(),
	}

	down, _ := h.engine.IsShutdown()
	resp.Shutdown = down
	if down {
		h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: resp})
		return
	}

	resp.Paused = h.engine.Paused()
	if registered, err := h.engine.Exists(h.controller.JobKey()); err == nil {
		resp.Registered = registered
	}
	if statuses, err := h.engine.TriggersOf(h.controller.JobKey()); err == nil && len(statuses) > 0 {
		resp.Cron = statuses[0].Expression
	}
	if next, ok := h.controller.NextFireTime(); ok {
		resp.NextFireTime = &next
	}

	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: resp})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if h.rejectWhenDown(w) {
		return
	}

	var req api.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := cronengine.ValidateSpec(req.Cron); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.applyMisfire(w, req.Misfire) {
		return
	}

	// Registration is idempotent: posting an already scheduled job leaves
	// the existing registration alone.
	if err := h.controller.ScheduleJob(req.Cron); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "schedule_failed").
			Str("cron", req.Cron).
			Msg("Failed to schedule job")
		http.Error(w, "Failed to schedule job", http.StatusInternalServerError)
		return
	}

	h.logger.LogScheduleChange(h.job.Name, req.Cron, "api")
	h.audit(r.Context(), store.ActionScheduled, req.Cron)
	h.notifyChange(notifier.EventScheduled, req.Cron)

	h.get(w, r)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if h.rejectWhenDown(w) {
		return
	}

	var req api.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := cronengine.ValidateSpec(req.Cron); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.applyMisfire(w, req.Misfire) {
		return
	}

	if err := h.controller.RescheduleJob(req.Cron); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "reschedule_failed").
			Str("cron", req.Cron).
			Msg("Failed to reschedule job")
		http.Error(w, "Failed to reschedule job", http.StatusInternalServerError)
		return
	}

	h.logger.LogScheduleChange(h.job.Name, req.Cron, "api")
	h.audit(r.Context(), store.ActionRescheduled, req.Cron)
	h.notifyChange(notifier.EventRescheduled, req.Cron)

	h.get(w, r)
}

// Pause handles POST /api/schedule/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.rejectWhenDown(w) {
		return
	}

	if err := h.controller.PauseJob(); err != nil {
		h.logger.Error().Err(err).Str("action", "pause_failed").Msg("Failed to pause job")
		http.Error(w, "Failed to pause job", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), store.ActionPaused, "")
	h.notifyChange(notifier.EventPaused, "")
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Message: "Job paused"})
}

// Resume handles POST /api/schedule/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.rejectWhenDown(w) {
		return
	}

	if err := h.controller.ResumeJob(); err != nil {
		h.logger.Error().Err(err).Str("action", "resume_failed").Msg("Failed to resume job")
		http.Error(w, "Failed to resume job", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), store.ActionResumed, "")
	h.notifyChange(notifier.EventResumed, "")
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Message: "Job resumed"})
}

// Trigger handles POST /api/schedule/trigger
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.rejectWhenDown(w) {
		return
	}

	if err := h.controller.TriggerJob(); err != nil {
		h.logger.Error().Err(err).Str("action", "manual_trigger_failed").Msg("Failed to trigger job")
		http.Error(w, "Failed to trigger job", http.StatusInternalServerError)
		return
	}

	h.audit(r.Context(), store.ActionTriggered, "")
	h.notifyChange(notifier.EventTriggered, "")
	h.writeJSON(w, http.StatusAccepted, api.Response{Success: true, Message: "Job fire requested"})
}

// Validate handles POST /api/schedule/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := map[string]interface{}{"valid": true}
	if err := cronengine.ValidateSpec(req.Cron); err != nil {
		result["valid"] = false
		result["error"] = err.Error()
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: result})
}

// Events handles GET /api/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	events, err := h.auditor.ListScheduleEvents(r.Context(), h.job.Name, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch schedule events")
		http.Error(w, "Failed to fetch schedule events", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data:    events,
		Meta: map[string]interface{}{
			"total": len(events),
		},
	})
}

// applyMisfire flips the misfire policy named in the request, if any. The
// policy change lands before the reschedule so the rebuilt trigger picks it
// up. Returns false when the request named an unknown policy.
func (h *Handler) applyMisfire(w http.ResponseWriter, misfire string) bool {
	switch misfire {
	case "":
	case "fire_and_proceed":
		h.policy.SetMisfireFireAndProceed(true)
	case "do_nothing":
		h.policy.SetMisfireFireAndProceed(false)
	default:
		http.Error(w, "Invalid misfire policy", http.StatusBadRequest)
		return false
	}
	return true
}

// rejectWhenDown answers mutating requests against a stopped engine.
func (h *Handler) rejectWhenDown(w http.ResponseWriter) bool {
	down, err := h.engine.IsShutdown()
	if err != nil {
		http.Error(w, "Failed to check engine state", http.StatusInternalServerError)
		return true
	}
	if down {
		http.Error(w, "Scheduler is shut down", http.StatusConflict)
		return true
	}
	return false
}

func (h *Handler) misfire() string {
	if h.policy.IsMisfireFireAndProceed() {
		return scheduling.MisfireFireAndProceed.String()
	}
	return scheduling.MisfireDoNothing.String()
}

func (h *Handler) audit(ctx context.Context, action, cron string) {
	if h.auditor == nil {
		return
	}
	event := store.ScheduleEvent{
		JobName: h.job.Name,
		Action:  action,
		Cron:    cron,
		Actor:   store.ActorAPI,
	}
	if err := h.auditor.InsertScheduleEvent(ctx, event); err != nil {
		h.logger.Warn().Err(err).Str("action", "audit_failed").Msg("Failed to record schedule event")
	}
}

func (h *Handler) notifyChange(name, cron string) {
	if h.notifier == nil {
		return
	}
	event := notifier.Event{
		Event:           name,
		JobName:         h.job.Name,
		TriggerIdentity: string(h.controller.TriggerIdentity()),
		Cron:            cron,
	}
	if next, ok := h.controller.NextFireTime(); ok {
		event.NextFireTime = &next
	}
	go h.notifier.Notify(context.Background(), event)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
