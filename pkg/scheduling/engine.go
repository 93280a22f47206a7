package scheduling

// Engine is the scheduling backend the controller drives. Implementations
// must be safe for concurrent use; every method may fail.
type Engine interface {
	// Exists reports whether a job is registered under the given key
	Exists(key JobKey) (bool, error)

	// IsShutdown reports whether the engine has been shut down
	IsShutdown() (bool, error)

	// Schedule registers the job together with its initial trigger
	Schedule(job JobDescriptor, trigger Trigger) error

	// Reschedule replaces the trigger known under identity with a new one
	Reschedule(identity TriggerIdentity, trigger Trigger) error

	// Start begins trigger processing. Starting a started engine is a no-op.
	Start() error

	// Shutdown stops the engine permanently
	Shutdown() error

	// PauseAll suspends firing for all registered triggers
	PauseAll() error

	// ResumeAll lifts a previous PauseAll
	ResumeAll() error

	// TriggersOf returns the status of every trigger attached to the job
	TriggersOf(key JobKey) ([]TriggerStatus, error)

	// FireNow fires the job once, immediately, outside its schedule
	FireNow(key JobKey) error
}
