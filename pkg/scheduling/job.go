package scheduling

import "context"

// JobKey identifies a registered job inside the engine
type JobKey string

func (k JobKey) String() string {
	return string(k)
}

// Job is the unit of work the engine invokes on every fire
type Job interface {
	// Execute runs the job with the given context
	Execute(ctx context.Context) error
}

// JobFunc adapts a plain function to the Job interface
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// JobDescriptor carries the identity and metadata the engine needs to
// register a job. Descriptors are treated as immutable after creation.
type JobDescriptor struct {
	Key         JobKey
	Description string
	Handler     Job
}
