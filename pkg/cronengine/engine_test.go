package cronengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schedlens/core/pkg/scheduling"
)

// mockRecorder implements Recorder for testing
type mockRecorder struct {
	mu      sync.Mutex
	records []RunRecord
}

func (m *mockRecorder) RecordRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, run)
	return nil
}

func (m *mockRecorder) countBySource(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, r := range m.records {
		if r.Source == source {
			count++
		}
	}
	return count
}

func (m *mockRecorder) lastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) == 0 {
		return ""
	}
	return m.records[len(m.records)-1].Error
}

func testJob(key string, fn func(ctx context.Context) error) scheduling.JobDescriptor {
	if fn == nil {
		fn = func(ctx context.Context) error { return nil }
	}
	return scheduling.JobDescriptor{
		Key:     scheduling.JobKey(key),
		Handler: scheduling.JobFunc(fn),
	}
}

func testTrigger(key, spec string, policy scheduling.MisfirePolicy) scheduling.Trigger {
	return scheduling.Trigger{
		Identity:   scheduling.TriggerIdentityFor(key),
		Expression: spec,
		Misfire:    policy,
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "six fields with question mark", spec: "0 */5 * * * ?"},
		{name: "daily at three", spec: "0 0 3 * * ?"},
		{name: "five fields", spec: "*/10 * * * *"},
		{name: "every descriptor", spec: "@every 30s"},
		{name: "daily descriptor", spec: "@daily"},
		{name: "garbage", spec: "not-a-cron", wantErr: true},
		{name: "minute out of range", spec: "99 * * * *", wantErr: true},
		{name: "empty", spec: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSpec(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestScheduleAndExists(t *testing.T) {
	engine := New(nil)

	job := testJob("report-job", nil)
	trigger := testTrigger("report-job", "@every 1h", scheduling.MisfireDoNothing)

	if err := engine.Schedule(job, trigger); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	exists, err := engine.Exists("report-job")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected job to exist after Schedule")
	}

	exists, err = engine.Exists("other-job")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected unknown job to not exist")
	}
}

func TestScheduleRejections(t *testing.T) {
	engine := New(nil)

	job := testJob("report-job", nil)
	trigger := testTrigger("report-job", "@every 1h", scheduling.MisfireDoNothing)
	if err := engine.Schedule(job, trigger); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	t.Run("duplicate job key", func(t *testing.T) {
		other := testTrigger("other-job", "@every 1h", scheduling.MisfireDoNothing)
		err := engine.Schedule(job, other)
		if !errors.Is(err, scheduling.ErrJobExists) {
			t.Errorf("expected ErrJobExists, got %v", err)
		}
	})

	t.Run("duplicate trigger identity", func(t *testing.T) {
		err := engine.Schedule(testJob("other-job", nil), trigger)
		if !errors.Is(err, scheduling.ErrDuplicateTrigger) {
			t.Errorf("expected ErrDuplicateTrigger, got %v", err)
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		bad := scheduling.JobDescriptor{Key: "no-handler-job"}
		err := engine.Schedule(bad, testTrigger("no-handler-job", "@every 1h", scheduling.MisfireDoNothing))
		if err == nil {
			t.Error("expected error for nil handler")
		}
	})

	t.Run("invalid expression leaves no registration", func(t *testing.T) {
		bad := testJob("broken-job", nil)
		err := engine.Schedule(bad, testTrigger("broken-job", "boom", scheduling.MisfireDoNothing))
		if err == nil {
			t.Fatal("expected parse error")
		}
		exists, _ := engine.Exists("broken-job")
		if exists {
			t.Error("expected failed Schedule to leave no registration")
		}
	})
}

func TestEngineExecutesScheduledJob(t *testing.T) {
	recorder := &mockRecorder{}
	engine := New(&Config{Recorder: recorder})

	var runs int32
	job := testJob("tick-job", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	if err := engine.Schedule(job, testTrigger("tick-job", "@every 100ms", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	}()

	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&runs) >= 1 }) {
		t.Fatal("job never executed")
	}
	if !waitFor(t, 2*time.Second, func() bool { return recorder.countBySource(SourceCron) >= 1 }) {
		t.Fatal("run was never recorded")
	}
}

func TestTriggersOfReportsNextFire(t *testing.T) {
	engine := New(nil)

	job := testJob("report-job", nil)
	if err := engine.Schedule(job, testTrigger("report-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	statuses, err := engine.TriggersOf("report-job")
	if err != nil {
		t.Fatalf("TriggersOf failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(statuses))
	}
	if !statuses[0].NextFire.IsZero() {
		t.Error("expected no planned fire before Start")
	}

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = engine.Shutdown() }()

	fireSet := waitFor(t, 2*time.Second, func() bool {
		statuses, err := engine.TriggersOf("report-job")
		return err == nil && len(statuses) == 1 && !statuses[0].NextFire.IsZero()
	})
	if !fireSet {
		t.Error("expected a planned fire after Start")
	}

	statuses, err = engine.TriggersOf("unknown-job")
	if err != nil {
		t.Fatalf("TriggersOf for unknown job failed: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("expected no triggers for unknown job, got %d", len(statuses))
	}
}

func TestRescheduleReplacesTrigger(t *testing.T) {
	engine := New(nil)

	identity := scheduling.TriggerIdentityFor("report-job")
	job := testJob("report-job", nil)
	if err := engine.Schedule(job, testTrigger("report-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	replacement := testTrigger("report-job", "@every 2h", scheduling.MisfireFireAndProceed)
	if err := engine.Reschedule(identity, replacement); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	statuses, err := engine.TriggersOf("report-job")
	if err != nil {
		t.Fatalf("TriggersOf failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 trigger after reschedule, got %d", len(statuses))
	}
	if statuses[0].Expression != "@every 2h" {
		t.Errorf("expected replaced expression, got %q", statuses[0].Expression)
	}

	t.Run("invalid replacement keeps current schedule", func(t *testing.T) {
		err := engine.Reschedule(identity, testTrigger("report-job", "boom", scheduling.MisfireDoNothing))
		if err == nil {
			t.Fatal("expected parse error")
		}
		statuses, _ := engine.TriggersOf("report-job")
		if len(statuses) != 1 || statuses[0].Expression != "@every 2h" {
			t.Error("expected failed reschedule to keep the current trigger")
		}
	})

	t.Run("unknown identity", func(t *testing.T) {
		err := engine.Reschedule("ghost-trigger", replacement)
		if !errors.Is(err, scheduling.ErrTriggerNotFound) {
			t.Errorf("expected ErrTriggerNotFound, got %v", err)
		}
	})
}

func TestPauseMakesUpMissedFireOnResume(t *testing.T) {
	recorder := &mockRecorder{}
	engine := New(&Config{Recorder: recorder})

	var runs int32
	job := testJob("makeup-job", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	trigger := testTrigger("makeup-job", "@every 100ms", scheduling.MisfireFireAndProceed)
	if err := engine.Schedule(job, trigger); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = engine.Shutdown() }()

	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&runs) >= 1 }) {
		t.Fatal("job never executed before pause")
	}

	if err := engine.PauseAll(); err != nil {
		t.Fatalf("PauseAll failed: %v", err)
	}

	// Let several fires get suppressed while paused.
	time.Sleep(350 * time.Millisecond)

	if err := engine.ResumeAll(); err != nil {
		t.Fatalf("ResumeAll failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return recorder.countBySource(SourceMisfire) == 1 }) {
		t.Fatalf("expected exactly one make-up fire, got %d", recorder.countBySource(SourceMisfire))
	}

	// Suppressed fires collapse into a single make-up run.
	time.Sleep(250 * time.Millisecond)
	if got := recorder.countBySource(SourceMisfire); got != 1 {
		t.Errorf("expected make-up fire to stay at 1, got %d", got)
	}
}

func TestPauseDoNothingSkipsMissedFires(t *testing.T) {
	recorder := &mockRecorder{}
	engine := New(&Config{Recorder: recorder})

	job := testJob("skip-job", nil)
	trigger := testTrigger("skip-job", "@every 100ms", scheduling.MisfireDoNothing)
	if err := engine.Schedule(job, trigger); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = engine.Shutdown() }()

	if err := engine.PauseAll(); err != nil {
		t.Fatalf("PauseAll failed: %v", err)
	}
	time.Sleep(350 * time.Millisecond)
	if err := engine.ResumeAll(); err != nil {
		t.Fatalf("ResumeAll failed: %v", err)
	}

	// Scheduled fires continue, but nothing is made up.
	if !waitFor(t, 2*time.Second, func() bool { return recorder.countBySource(SourceCron) >= 1 }) {
		t.Fatal("scheduled fires did not resume")
	}
	if got := recorder.countBySource(SourceMisfire); got != 0 {
		t.Errorf("expected no make-up fires for do-nothing policy, got %d", got)
	}
}

func TestFireNow(t *testing.T) {
	recorder := &mockRecorder{}
	engine := New(&Config{Recorder: recorder})

	var runs int32
	job := testJob("manual-job", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	if err := engine.Schedule(job, testTrigger("manual-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if err := engine.FireNow("manual-job"); err != nil {
		t.Fatalf("FireNow failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return recorder.countBySource(SourceManual) == 1 }) {
		t.Fatal("manual fire never ran")
	}

	if err := engine.FireNow("unknown-job"); !errors.Is(err, scheduling.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	if err := engine.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestFireNowBypassesPause(t *testing.T) {
	recorder := &mockRecorder{}
	engine := New(&Config{Recorder: recorder})

	job := testJob("manual-job", nil)
	if err := engine.Schedule(job, testTrigger("manual-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.PauseAll(); err != nil {
		t.Fatalf("PauseAll failed: %v", err)
	}

	if err := engine.FireNow("manual-job"); err != nil {
		t.Fatalf("FireNow failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return recorder.countBySource(SourceManual) == 1 }) {
		t.Fatal("manual fire was blocked by pause")
	}

	if err := engine.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestShutdownIsTerminal(t *testing.T) {
	engine := New(nil)

	job := testJob("report-job", nil)
	trigger := testTrigger("report-job", "@every 1h", scheduling.MisfireDoNothing)
	if err := engine.Schedule(job, trigger); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := engine.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	down, err := engine.IsShutdown()
	if err != nil {
		t.Fatalf("IsShutdown failed: %v", err)
	}
	if !down {
		t.Fatal("expected IsShutdown to be true")
	}

	if _, err := engine.Exists("report-job"); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("Exists after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.Schedule(testJob("late-job", nil), testTrigger("late-job", "@every 1h", scheduling.MisfireDoNothing)); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("Schedule after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.Reschedule(trigger.Identity, trigger); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("Reschedule after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.Start(); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("Start after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.PauseAll(); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("PauseAll after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.ResumeAll(); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("ResumeAll after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if _, err := engine.TriggersOf("report-job"); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("TriggersOf after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.FireNow("report-job"); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("FireNow after shutdown: expected ErrEngineShutdown, got %v", err)
	}
	if err := engine.Shutdown(); !errors.Is(err, scheduling.ErrEngineShutdown) {
		t.Errorf("second Shutdown: expected ErrEngineShutdown, got %v", err)
	}
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	engine := New(nil)

	started := make(chan struct{}, 1)
	var done int32
	job := testJob("slow-job", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(200 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
		return nil
	})
	if err := engine.Schedule(job, testTrigger("slow-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.FireNow("slow-job"); err != nil {
		t.Fatalf("FireNow failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	if err := engine.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if atomic.LoadInt32(&done) != 1 {
		t.Error("Shutdown returned before the running job finished")
	}
}

func TestJobPanicIsRecovered(t *testing.T) {
	recorder := &mockRecorder{}
	engine := New(&Config{Recorder: recorder})

	job := testJob("explosive-job", func(ctx context.Context) error {
		panic("boom")
	})
	if err := engine.Schedule(job, testTrigger("explosive-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.FireNow("explosive-job"); err != nil {
		t.Fatalf("FireNow failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return recorder.countBySource(SourceManual) == 1 }) {
		t.Fatal("panicking job was never recorded")
	}
	if got := recorder.lastError(); got == "" {
		t.Error("expected run record to carry the panic as an error")
	}

	// The engine survives the panic.
	if _, err := engine.Exists("explosive-job"); err != nil {
		t.Errorf("engine unusable after panic: %v", err)
	}
	if err := engine.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestRunTimeoutIsApplied(t *testing.T) {
	engine := New(&Config{RunTimeout: 5 * time.Second})

	hasDeadline := make(chan bool, 1)
	job := testJob("deadline-job", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hasDeadline <- ok
		return nil
	})
	if err := engine.Schedule(job, testTrigger("deadline-job", "@every 1h", scheduling.MisfireDoNothing)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := engine.FireNow("deadline-job"); err != nil {
		t.Fatalf("FireNow failed: %v", err)
	}

	select {
	case ok := <-hasDeadline:
		if !ok {
			t.Error("expected job context to carry a deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	if err := engine.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
