package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/schedlens/core/pkg/logger"
	"github.com/sony/gobreaker"
)

// Event names sent to the webhook.
const (
	EventScheduled   = "job.scheduled"
	EventRescheduled = "job.rescheduled"
	EventPaused      = "job.paused"
	EventResumed     = "job.resumed"
	EventTriggered   = "job.triggered"
	EventShutdown    = "scheduler.shutdown"
)

// Event is one outbound schedule change notification.
type Event struct {
	ID              string     `json:"id"`
	Event           string     `json:"event"`
	JobName         string     `json:"job_name"`
	TriggerIdentity string     `json:"trigger_identity,omitempty"`
	Cron            string     `json:"cron,omitempty"`
	NextFireTime    *time.Time `json:"next_fire_time,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Notifier delivers schedule change events to a webhook behind a circuit
// breaker, so a dead receiver costs three failed calls and then nothing
// until the breaker half-opens. A notifier with an empty URL is disabled.
type Notifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// New creates a notifier for the given webhook URL. An empty URL creates a
// disabled notifier that drops every event.
func New(url string, timeout time.Duration) *Notifier {
	n := &Notifier{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.New("schedule-notifier"),
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "schedule-webhook",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.logger.Warn().
				Str("action", "breaker_state_changed").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Notification circuit breaker state changed")
		},
	})
	return n
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

// Notify delivers one event. Failures are logged and swallowed; schedule
// operations never fail because a notification could not be sent. A missing
// ID or timestamp is filled in.
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if !n.Enabled() {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, event)
	})
	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("action", "notify_failed").
			Str("event", event.Event).
			Msg("Failed to deliver schedule notification")
	}
}

func (n *Notifier) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.LogAPICall(http.MethodPost, n.url, 0, time.Since(started), err)
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	n.logger.LogAPICall(http.MethodPost, n.url, resp.StatusCode, time.Since(started), nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
