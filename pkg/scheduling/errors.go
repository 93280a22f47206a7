package scheduling

import (
	"errors"
	"fmt"
)

// Sentinel errors engine implementations return so callers can classify
// failures with errors.Is after unwrapping a SchedulingError.
var (
	// ErrEngineShutdown is returned by engine operations invoked after the
	// engine was shut down
	ErrEngineShutdown = errors.New("engine is shut down")

	// ErrJobExists is returned when scheduling a job key that is already
	// registered
	ErrJobExists = errors.New("job already registered")

	// ErrJobNotFound is returned when operating on an unregistered job key
	ErrJobNotFound = errors.New("job not registered")

	// ErrTriggerNotFound is returned when rescheduling an unknown trigger
	// identity
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrDuplicateTrigger is returned when a trigger identity is already in
	// use by another registration
	ErrDuplicateTrigger = errors.New("trigger identity already in use")
)

// SchedulingError wraps every failure surfaced by the controller so callers
// can treat scheduling faults uniformly while still reaching the cause
// through errors.Is and errors.As.
type SchedulingError struct {
	Op  string
	Err error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling %s: %v", e.Op, e.Err)
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}
