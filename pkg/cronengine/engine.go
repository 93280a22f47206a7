package cronengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/scheduling"
)

// specParser accepts Quartz-style expressions: an optional leading seconds
// field, ? for the day fields, plus @every and the other descriptors.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec checks a cron expression against the engine's parser without
// registering anything.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Run sources recorded with every job execution.
const (
	SourceCron    = "cron"
	SourceManual  = "manual"
	SourceMisfire = "misfire"
)

// RunRecord describes one completed job run.
type RunRecord struct {
	ID        string
	JobKey    scheduling.JobKey
	Trigger   scheduling.TriggerIdentity
	Source    string
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// Recorder persists job run outcomes. Implementations must be safe for
// concurrent use; failures are logged by the engine, never retried.
type Recorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Config tunes an Engine.
type Config struct {
	// Recorder receives a record of every job run. Optional.
	Recorder Recorder

	// RunTimeout bounds a single job execution. Defaults to 30 minutes.
	RunTimeout time.Duration

	// Location sets the time zone cron expressions are evaluated in.
	// Defaults to UTC.
	Location *time.Location
}

// Engine implements scheduling.Engine on top of robfig/cron. Pausing gates
// execution instead of unregistering entries, so next fire times stay
// observable while paused and fires suppressed under a fire-and-proceed
// trigger can be made up once on resume.
type Engine struct {
	logger     *logger.Logger
	recorder   Recorder
	runTimeout time.Duration

	mu       sync.Mutex
	cron     *cron.Cron
	started  bool
	paused   bool
	down     bool
	jobs     map[scheduling.JobKey]scheduling.JobDescriptor
	bindings map[scheduling.TriggerIdentity]*binding

	// runs tracks manual and make-up fires; cron-dispatched fires are
	// awaited through cron.Stop.
	runs sync.WaitGroup
}

// binding ties one trigger registration to its cron entry. missed records
// that at least one fire was suppressed while the engine was paused.
type binding struct {
	jobKey  scheduling.JobKey
	trigger scheduling.Trigger
	entry   cron.EntryID
	missed  bool
}

// New creates an engine. A nil config uses defaults.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}

	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	log := logger.New("cron-engine")
	engine := &Engine{
		logger:     log,
		recorder:   cfg.Recorder,
		runTimeout: runTimeout,
		jobs:       make(map[scheduling.JobKey]scheduling.JobDescriptor),
		bindings:   make(map[scheduling.TriggerIdentity]*binding),
	}
	engine.cron = cron.New(
		cron.WithLocation(location),
		cron.WithParser(specParser),
		cron.WithLogger(&cronLogger{logger: log}),
	)
	return engine
}

// Exists reports whether a job is registered under the given key.
func (e *Engine) Exists(key scheduling.JobKey) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return false, scheduling.ErrEngineShutdown
	}
	_, ok := e.jobs[key]
	return ok, nil
}

// IsShutdown reports whether Shutdown has completed a first call.
func (e *Engine) IsShutdown() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.down, nil
}

// Paused reports whether the execution gate is closed.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Schedule registers the job together with its initial trigger.
func (e *Engine) Schedule(job scheduling.JobDescriptor, trigger scheduling.Trigger) error {
	if job.Handler == nil {
		return fmt.Errorf("job %s has no handler", job.Key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return scheduling.ErrEngineShutdown
	}
	if _, ok := e.jobs[job.Key]; ok {
		return fmt.Errorf("%w: %s", scheduling.ErrJobExists, job.Key)
	}
	if _, ok := e.bindings[trigger.Identity]; ok {
		return fmt.Errorf("%w: %s", scheduling.ErrDuplicateTrigger, trigger.Identity)
	}

	b := &binding{jobKey: job.Key, trigger: trigger}
	entryID, err := e.cron.AddJob(trigger.Expression, &entryRunner{engine: e, binding: b})
	if err != nil {
		return fmt.Errorf("failed to parse schedule %q: %w", trigger.Expression, err)
	}
	b.entry = entryID
	e.jobs[job.Key] = job
	e.bindings[trigger.Identity] = b

	e.logger.Info().
		Str("action", "trigger_registered").
		Str("job_name", string(job.Key)).
		Str("trigger_identity", string(trigger.Identity)).
		Str("cron", trigger.Expression).
		Str("misfire", trigger.Misfire.String()).
		Msg("Trigger registered")
	return nil
}

// Reschedule replaces the trigger known under identity with a new one. The
// replacement is validated before the old entry is removed, so a bad
// expression leaves the current schedule untouched.
func (e *Engine) Reschedule(identity scheduling.TriggerIdentity, trigger scheduling.Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return scheduling.ErrEngineShutdown
	}
	old, ok := e.bindings[identity]
	if !ok {
		return fmt.Errorf("%w: %s", scheduling.ErrTriggerNotFound, identity)
	}

	b := &binding{jobKey: old.jobKey, trigger: trigger}
	entryID, err := e.cron.AddJob(trigger.Expression, &entryRunner{engine: e, binding: b})
	if err != nil {
		return fmt.Errorf("failed to parse schedule %q: %w", trigger.Expression, err)
	}
	e.cron.Remove(old.entry)
	b.entry = entryID
	delete(e.bindings, identity)
	e.bindings[trigger.Identity] = b

	e.logger.Info().
		Str("action", "trigger_replaced").
		Str("job_name", string(b.jobKey)).
		Str("trigger_identity", string(trigger.Identity)).
		Str("cron", trigger.Expression).
		Str("misfire", trigger.Misfire.String()).
		Msg("Trigger replaced")
	return nil
}

// Start begins trigger processing. Starting a started engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return scheduling.ErrEngineShutdown
	}
	if e.started {
		return nil
	}
	e.cron.Start()
	e.started = true

	e.logger.Info().
		Str("action", "engine_started").
		Msg("Engine started")
	return nil
}

// Shutdown stops the engine permanently and waits for in-flight runs.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		return scheduling.ErrEngineShutdown
	}
	e.down = true
	e.mu.Unlock()

	// Wait for cron-dispatched runs, then for manual and make-up runs.
	<-e.cron.Stop().Done()
	e.runs.Wait()

	e.logger.Info().
		Str("action", "engine_stopped").
		Msg("Engine stopped")
	return nil
}

// PauseAll suspends firing for all registered triggers. Entries stay
// registered, so next fire times remain observable.
func (e *Engine) PauseAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return scheduling.ErrEngineShutdown
	}
	e.paused = true

	e.logger.Info().
		Str("action", "triggers_paused").
		Msg("All triggers paused")
	return nil
}

// ResumeAll lifts a previous PauseAll. Triggers that missed fires while
// paused get one make-up fire when their policy is fire-and-proceed;
// do-nothing triggers simply wait for their next scheduled fire.
func (e *Engine) ResumeAll() error {
	type makeup struct {
		job      scheduling.JobDescriptor
		identity scheduling.TriggerIdentity
	}

	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		return scheduling.ErrEngineShutdown
	}
	e.paused = false

	var makeups []makeup
	for _, b := range e.bindings {
		if !b.missed {
			continue
		}
		b.missed = false
		if b.trigger.Misfire != scheduling.MisfireFireAndProceed {
			continue
		}
		job, ok := e.jobs[b.jobKey]
		if !ok {
			continue
		}
		makeups = append(makeups, makeup{job: job, identity: b.trigger.Identity})
		e.runs.Add(1)
	}
	e.mu.Unlock()

	e.logger.Info().
		Str("action", "triggers_resumed").
		Int("makeup_fires", len(makeups)).
		Msg("All triggers resumed")

	for _, m := range makeups {
		go func(m makeup) {
			defer e.runs.Done()
			e.runJob(m.job, m.identity, SourceMisfire)
		}(m)
	}
	return nil
}

// TriggersOf returns the status of every trigger attached to the job. An
// unknown key yields an empty list, not an error. A zero NextFire means the
// trigger has no planned fire, which is the case until Start.
func (e *Engine) TriggersOf(key scheduling.JobKey) ([]scheduling.TriggerStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return nil, scheduling.ErrEngineShutdown
	}

	var statuses []scheduling.TriggerStatus
	for _, b := range e.bindings {
		if b.jobKey != key {
			continue
		}
		status := scheduling.TriggerStatus{
			Identity:   b.trigger.Identity,
			Expression: b.trigger.Expression,
		}
		if entry := e.cron.Entry(b.entry); entry.Valid() {
			status.NextFire = entry.Next
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// FireNow fires the job once, immediately, outside its schedule. The run is
// dispatched asynchronously so callers only pay the dispatch cost. Manual
// fires bypass a pause.
func (e *Engine) FireNow(key scheduling.JobKey) error {
	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		return scheduling.ErrEngineShutdown
	}
	job, ok := e.jobs[key]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", scheduling.ErrJobNotFound, key)
	}
	var identity scheduling.TriggerIdentity
	for _, b := range e.bindings {
		if b.jobKey == key {
			identity = b.trigger.Identity
			break
		}
	}
	e.runs.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.runs.Done()
		e.runJob(job, identity, SourceManual)
	}()
	return nil
}

// entryRunner adapts a binding to cron.Job. Scheduled fires pass through
// the pause gate; suppressed ones are remembered on the binding so resume
// can apply the trigger's misfire policy.
type entryRunner struct {
	engine  *Engine
	binding *binding
}

func (r *entryRunner) Run() {
	e := r.engine

	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		return
	}
	if e.paused {
		r.binding.missed = true
		e.mu.Unlock()
		e.logger.Debug().
			Str("action", "fire_suppressed").
			Str("trigger_identity", string(r.binding.trigger.Identity)).
			Msg("Fire suppressed while paused")
		return
	}
	job, ok := e.jobs[r.binding.jobKey]
	e.mu.Unlock()
	if !ok {
		return
	}

	e.runJob(job, r.binding.trigger.Identity, SourceCron)
}

func (e *Engine) runJob(job scheduling.JobDescriptor, identity scheduling.TriggerIdentity, source string) {
	runID := uuid.New().String()
	log := e.logger.WithRequestID(runID).
		WithJob(string(job.Key)).
		WithTrigger(string(identity))

	ctx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
	defer cancel()
	ctx = log.ToContext(ctx)

	log.LogTriggerFired(string(job.Key), string(identity), source)

	started := time.Now()
	err := runHandler(ctx, job.Handler)
	duration := time.Since(started)

	log.LogJobComplete(string(job.Key), duration, err)

	if e.recorder == nil {
		return
	}

	record := RunRecord{
		ID:        runID,
		JobKey:    job.Key,
		Trigger:   identity,
		Source:    source,
		StartedAt: started,
		Duration:  duration,
	}
	if err != nil {
		record.Error = err.Error()
	}

	// The run context may already be expired; recording gets its own.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recordCancel()
	if recErr := e.recorder.RecordRun(recordCtx, record); recErr != nil {
		log.Warn().
			Err(recErr).
			Str("action", "run_record_failed").
			Msg("Failed to record job run")
	}
}

// runHandler shields the engine from panicking handlers.
func runHandler(ctx context.Context, handler scheduling.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler.Execute(ctx)
}
