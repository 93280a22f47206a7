package store

import (
	"context"

	"github.com/schedlens/core/pkg/cronengine"
)

// RecordRun implements cronengine.Recorder by persisting the run.
func (s *Store) RecordRun(ctx context.Context, record cronengine.RunRecord) error {
	return s.InsertRun(ctx, Run{
		ID:              record.ID,
		JobName:         string(record.JobKey),
		TriggerIdentity: string(record.Trigger),
		Source:          record.Source,
		StartedAt:       record.StartedAt,
		Duration:        record.Duration,
		Error:           record.Error,
	})
}
