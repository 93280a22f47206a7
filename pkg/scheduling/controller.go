package scheduling

import (
	"time"

	"github.com/schedlens/core/pkg/logger"
)

// Controller manages the lifecycle of a single scheduled job against an
// engine: registration, reschedules, pause/resume, manual fires and
// shutdown. It holds no schedule state of its own; the engine is the only
// source of truth, so concurrent callers are safe whenever the engine is.
type Controller struct {
	engine   Engine
	job      JobDescriptor
	facade   Facade
	identity TriggerIdentity
	logger   *logger.Logger
}

// NewController creates a controller for one job. The identity names the
// job's trigger and stays stable across reschedules.
func NewController(engine Engine, job JobDescriptor, facade Facade, identity TriggerIdentity) *Controller {
	return &Controller{
		engine:   engine,
		job:      job,
		facade:   facade,
		identity: identity,
		logger:   logger.New("schedule-controller").WithJob(string(job.Key)),
	}
}

// JobKey returns the key of the job this controller manages.
func (c *Controller) JobKey() JobKey {
	return c.job.Key
}

// TriggerIdentity returns the identity under which the job's trigger is
// registered.
func (c *Controller) TriggerIdentity() TriggerIdentity {
	return c.identity
}

// buildTrigger assembles a fresh trigger for the expression, reading the
// misfire policy from the facade at call time.
func (c *Controller) buildTrigger(cronExpression string) Trigger {
	return NewTrigger(c.identity, cronExpression, c.facade.IsMisfireFireAndProceed())
}

// unlessShutdown runs fn only while the engine is live. A shut-down engine
// turns the operation into a logged no-op.
func (c *Controller) unlessShutdown(op string, fn func() error) error {
	down, err := c.engine.IsShutdown()
	if err != nil {
		return &SchedulingError{Op: op, Err: err}
	}
	if down {
		c.logger.Debug().
			Str("action", op+"_skipped").
			Msg("Engine already shut down, nothing to do")
		return nil
	}

	if err := fn(); err != nil {
		return &SchedulingError{Op: op, Err: err}
	}
	return nil
}

// ScheduleJob registers the job under the given cron expression and starts
// the engine. Registration is skipped when the job already exists, so
// repeated calls converge on the same registered job.
func (c *Controller) ScheduleJob(cronExpression string) error {
	exists, err := c.engine.Exists(c.job.Key)
	if err != nil {
		return &SchedulingError{Op: "schedule", Err: err}
	}
	if !exists {
		if err := c.engine.Schedule(c.job, c.buildTrigger(cronExpression)); err != nil {
			return &SchedulingError{Op: "schedule", Err: err}
		}
	}
	if err := c.engine.Start(); err != nil {
		return &SchedulingError{Op: "schedule", Err: err}
	}

	c.logger.Info().
		Str("action", "job_scheduled").
		Str("cron", cronExpression).
		Bool("already_registered", exists).
		Msg("Job scheduled")
	return nil
}

// RescheduleJob replaces the job's trigger with one built from the given
// cron expression. Called after shutdown it does nothing.
func (c *Controller) RescheduleJob(cronExpression string) error {
	return c.unlessShutdown("reschedule", func() error {
		if err := c.engine.Reschedule(c.identity, c.buildTrigger(cronExpression)); err != nil {
			return err
		}

		c.logger.Info().
			Str("action", "job_rescheduled").
			Str("cron", cronExpression).
			Msg("Job rescheduled")
		return nil
	})
}

// NextFireTime returns the earliest upcoming fire across the job's
// triggers. The boolean is false when no fire is planned or the engine
// could not be queried; a degraded engine reads as "no upcoming fire", it
// never turns into an error.
func (c *Controller) NextFireTime() (time.Time, bool) {
	statuses, err := c.engine.TriggersOf(c.job.Key)
	if err != nil {
		return time.Time{}, false
	}

	var next time.Time
	for _, status := range statuses {
		if status.NextFire.IsZero() {
			continue
		}
		if next.IsZero() || status.NextFire.Before(next) {
			next = status.NextFire
		}
	}
	return next, !next.IsZero()
}

// PauseJob suspends firing for the job. Called after shutdown it does
// nothing.
func (c *Controller) PauseJob() error {
	return c.unlessShutdown("pause", c.engine.PauseAll)
}

// ResumeJob lifts a previous pause. Called after shutdown it does nothing.
func (c *Controller) ResumeJob() error {
	return c.unlessShutdown("resume", c.engine.ResumeAll)
}

// TriggerJob fires the job once, immediately, outside its schedule. On a
// shut-down engine the request is logged as an error and dropped without
// one being returned. Engine failures are both logged and returned.
func (c *Controller) TriggerJob() error {
	c.logger.Info().
		Str("action", "manual_trigger_begin").
		Msg("Manual trigger requested")

	down, err := c.engine.IsShutdown()
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("action", "manual_trigger_failed").
			Msg("Manual trigger failed")
		return &SchedulingError{Op: "trigger", Err: err}
	}
	if down {
		c.logger.Error().
			Str("action", "manual_trigger_dropped").
			Msg("Engine is shut down, manual trigger dropped")
		return nil
	}

	if err := c.engine.FireNow(c.job.Key); err != nil {
		c.logger.Error().
			Err(err).
			Str("action", "manual_trigger_failed").
			Msg("Manual trigger failed")
		return &SchedulingError{Op: "trigger", Err: err}
	}

	c.logger.Info().
		Str("action", "manual_trigger_end").
		Msg("Manual trigger dispatched")
	return nil
}

// Shutdown releases facade-held resources and stops the engine. Resources
// are released on every call, even when the engine is already down; the
// engine itself is only stopped once.
func (c *Controller) Shutdown() error {
	c.facade.ReleaseResources()

	return c.unlessShutdown("shutdown", func() error {
		if err := c.engine.Shutdown(); err != nil {
			return err
		}

		c.logger.Info().
			Str("action", "engine_shutdown").
			Msg("Engine shut down")
		return nil
	})
}
