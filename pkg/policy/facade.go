package policy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/store"
)

// SchedulerFacade exposes the mutable scheduling policy and owns release of
// externally held resources. The misfire flag can be flipped at runtime (API
// reschedule, schedule file watcher) and is read fresh on every trigger
// build, so the next built trigger always carries the current policy.
type SchedulerFacade struct {
	fireAndProceed atomic.Bool
	lock           *store.ResourceLock
	logger         *logger.Logger
}

// NewSchedulerFacade creates a facade with the initial misfire policy. The
// lock is optional; pass nil when the instance runs unlocked.
func NewSchedulerFacade(misfireFireAndProceed bool, lock *store.ResourceLock) *SchedulerFacade {
	f := &SchedulerFacade{
		lock:   lock,
		logger: logger.New("scheduler-facade"),
	}
	f.fireAndProceed.Store(misfireFireAndProceed)
	return f
}

// IsMisfireFireAndProceed reports the current misfire policy.
func (f *SchedulerFacade) IsMisfireFireAndProceed() bool {
	return f.fireAndProceed.Load()
}

// SetMisfireFireAndProceed flips the misfire policy for triggers built from
// now on. Triggers already registered keep the policy they were built with
// until the next reschedule.
func (f *SchedulerFacade) SetMisfireFireAndProceed(v bool) {
	old := f.fireAndProceed.Swap(v)
	if old != v {
		f.logger.Info().
			Str("action", "misfire_policy_changed").
			Bool("fire_and_proceed", v).
			Msg("Misfire policy updated")
	}
}

// ReleaseResources drops the instance's advisory lock. Best effort: failures
// are logged, never propagated, and repeated calls are safe.
func (f *SchedulerFacade) ReleaseResources() {
	if f.lock == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := f.lock.Release(ctx); err != nil {
		f.logger.Warn().
			Err(err).
			Str("action", "release_failed").
			Msg("Failed to release scheduler resources")
		return
	}
	f.logger.Info().
		Str("action", "resources_released").
		Msg("Scheduler resources released")
}
