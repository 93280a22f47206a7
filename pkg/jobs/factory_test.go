package jobs

import (
	"testing"

	"github.com/schedlens/core/internal/config"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		wantErr bool
	}{
		{"command job", "command", false},
		{"webhook job", "webhook", false},
		{"unknown type", "systemd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Job.Name = "report-job"
			cfg.Job.Type = tt.jobType
			cfg.Job.Command = "date"
			cfg.Job.TargetURL = "https://hooks.test/fire"
			cfg.Job.Timeout = 60

			job, err := FromConfig(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error for an unknown job type")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}

			switch tt.jobType {
			case "command":
				if _, ok := job.(*CommandJob); !ok {
					t.Errorf("Expected a CommandJob, got %T", job)
				}
			case "webhook":
				if _, ok := job.(*WebhookJob); !ok {
					t.Errorf("Expected a WebhookJob, got %T", job)
				}
			}
		})
	}
}
