package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/schedlens/core/pkg/logger"
)

// WebhookJob POSTs a small JSON payload to a target URL on every fire.
type WebhookJob struct {
	targetURL string
	jobName   string
	client    *http.Client
	logger    *logger.Logger
}

// NewWebhookJob creates a job that calls the given URL on every fire. The
// timeout bounds the whole request on top of the run context.
func NewWebhookJob(jobName, targetURL string, timeout time.Duration) *WebhookJob {
	return &WebhookJob{
		targetURL: targetURL,
		jobName:   jobName,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.New("webhook-job"),
	}
}

type webhookPayload struct {
	JobName string `json:"job_name"`
	FiredAt string `json:"fired_at"`
}

// Execute sends the fire notification and treats any non-2xx response as a
// failed run.
func (j *WebhookJob) Execute(ctx context.Context) error {
	body, err := json.Marshal(webhookPayload{
		JobName: j.jobName,
		FiredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := j.client.Do(req)
	if err != nil {
		j.logger.LogAPICall(http.MethodPost, j.targetURL, 0, time.Since(started), err)
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	j.logger.LogAPICall(http.MethodPost, j.targetURL, resp.StatusCode, time.Since(started), nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
