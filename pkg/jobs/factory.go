package jobs

import (
	"fmt"
	"time"

	"github.com/schedlens/core/internal/config"
	"github.com/schedlens/core/pkg/scheduling"
)

// FromConfig builds the job implementation the configuration names.
func FromConfig(cfg *config.Config) (scheduling.Job, error) {
	switch cfg.Job.Type {
	case "command":
		return NewCommandJob(cfg.Job.Command), nil
	case "webhook":
		return NewWebhookJob(cfg.Job.Name, cfg.Job.TargetURL, time.Duration(cfg.Job.Timeout)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown job type %q", cfg.Job.Type)
	}
}
