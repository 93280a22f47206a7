package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// mockRoundTripper records the outgoing request and replays a canned response
type mockRoundTripper struct {
	response *http.Response
	err      error
	request  *http.Request
	body     []byte
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.request = req
	if req.Body != nil {
		m.body, _ = io.ReadAll(req.Body)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func newWebhookJobWithTransport(rt http.RoundTripper) *WebhookJob {
	job := NewWebhookJob("report-job", "https://hooks.test/fire", 5*time.Second)
	job.client.Transport = rt
	return job
}

func TestWebhookJobPostsPayload(t *testing.T) {
	rt := &mockRoundTripper{
		response: &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(bytes.NewBufferString("ok")),
		},
	}
	job := newWebhookJobWithTransport(rt)

	if err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	if rt.request.Method != http.MethodPost {
		t.Errorf("Expected POST, got %s", rt.request.Method)
	}
	if got := rt.request.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Expected JSON content type, got %q", got)
	}

	var payload webhookPayload
	if err := json.Unmarshal(rt.body, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.JobName != "report-job" {
		t.Errorf("Expected job name in payload, got %q", payload.JobName)
	}
	if payload.FiredAt == "" {
		t.Error("Expected fired_at to be set")
	}
}

func TestWebhookJobRejectsNon2xx(t *testing.T) {
	rt := &mockRoundTripper{
		response: &http.Response{
			StatusCode: 500,
			Body:       io.NopCloser(bytes.NewBufferString("boom")),
		},
	}
	job := newWebhookJobWithTransport(rt)

	err := job.Execute(context.Background())
	if err == nil {
		t.Fatal("Expected an error for a 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status in error, got %q", err.Error())
	}
}

func TestWebhookJobTransportError(t *testing.T) {
	rt := &mockRoundTripper{err: errors.New("connection refused")}
	job := newWebhookJobWithTransport(rt)

	if err := job.Execute(context.Background()); err == nil {
		t.Fatal("Expected an error when the request fails")
	}
}
