package scheduling

import "time"

// TriggerIdentity names a trigger inside the engine. It stays stable across
// reschedules so the engine can locate the trigger to replace.
type TriggerIdentity string

func (t TriggerIdentity) String() string {
	return string(t)
}

// MisfirePolicy controls what happens to fires missed while the job could
// not run
type MisfirePolicy int

const (
	// MisfireFireAndProceed runs one make-up fire, then continues on schedule
	MisfireFireAndProceed MisfirePolicy = iota

	// MisfireDoNothing skips missed fires and waits for the next scheduled one
	MisfireDoNothing
)

func (p MisfirePolicy) String() string {
	switch p {
	case MisfireFireAndProceed:
		return "fire_and_proceed"
	case MisfireDoNothing:
		return "do_nothing"
	default:
		return "unknown"
	}
}

// Trigger binds a cron expression and a misfire policy to an identity.
// Triggers are plain values: built, handed to the engine, never mutated.
type Trigger struct {
	Identity   TriggerIdentity
	Expression string
	Misfire    MisfirePolicy
}

// NewTrigger builds a trigger for the given identity and cron expression.
// The flag selects fire-and-proceed when true, do-nothing otherwise.
func NewTrigger(identity TriggerIdentity, cronExpression string, fireAndProceed bool) Trigger {
	policy := MisfireDoNothing
	if fireAndProceed {
		policy = MisfireFireAndProceed
	}

	return Trigger{
		Identity:   identity,
		Expression: cronExpression,
		Misfire:    policy,
	}
}

// TriggerStatus is the engine's view of one trigger attached to a job.
// A zero NextFire means the trigger has no planned fire.
type TriggerStatus struct {
	Identity   TriggerIdentity
	Expression string
	NextFire   time.Time
}
