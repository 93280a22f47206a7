package watcher

import (
	"context"
	"crypto/md5"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/notifier"
	"github.com/schedlens/core/pkg/store"
)

// Rescheduler is the slice of the schedule controller the watcher drives.
type Rescheduler interface {
	RescheduleJob(cronExpression string) error
}

// Policy flips the misfire policy ahead of a reschedule.
type Policy interface {
	SetMisfireFireAndProceed(v bool)
}

// Auditor records applied schedule file changes. Optional.
type Auditor interface {
	InsertScheduleEvent(ctx context.Context, event store.ScheduleEvent) error
}

// Notify announces applied changes. Optional.
type Notify interface {
	Notify(ctx context.Context, event notifier.Event)
}

const (
	debounceDelay      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher applies schedule changes written to a file. Editors produce
// bursts of partial writes, so events are debounced and deduplicated by
// content hash before anything reaches the controller.
type Watcher struct {
	path       string
	jobName    string
	controller Rescheduler
	policy     Policy
	auditor    Auditor
	notifier   Notify
	logger     *logger.Logger

	mu       sync.Mutex
	timer    *time.Timer
	lastHash [16]byte
	applied  bool
}

// Deps wires a Watcher.
type Deps struct {
	Path       string
	JobName    string
	Controller Rescheduler
	Policy     Policy
	Auditor    Auditor
	Notifier   Notify
}

func New(deps Deps) *Watcher {
	return &Watcher{
		path:       deps.Path,
		jobName:    deps.JobName,
		controller: deps.Controller,
		policy:     deps.Policy,
		auditor:    deps.Auditor,
		notifier:   deps.Notifier,
		logger:     logger.New("schedule-watcher"),
	}
}

// ApplyExisting applies the schedule file once if it is already present, so
// a file written while the service was down still wins over the
// environment default.
func (w *Watcher) ApplyExisting(ctx context.Context) {
	if _, err := os.Stat(w.path); err != nil {
		return
	}
	w.apply(ctx)
}

// Watch blocks until the context is canceled, applying valid schedule file
// changes as they land. The directory is watched rather than the file so
// rename-based saves keep working, and the fsnotify watcher is recreated
// with a jittered backoff when it breaks.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn().
				Err(err).
				Str("action", "watch_init_failed").
				Msg("Failed to create schedule watcher")
			if !wait() {
				return nil
			}
			continue
		}

		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			w.logger.Warn().
				Err(err).
				Str("action", "watch_add_failed").
				Str("dir", dir).
				Msg("Failed to watch schedule directory")
			if !wait() {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		w.logger.Info().
			Str("action", "watch_started").
			Str("path", w.path).
			Msg("Watching schedule file")

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				w.stopTimer()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					w.debounce(ctx)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if w.handleWatchError(ctx, err) {
					broken = true
				}
			}
		}

		_ = fw.Close()
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn().
			Str("action", "watch_restarting").
			Str("path", w.path).
			Msg("Schedule watcher stopped, restarting")
		if !wait() {
			return nil
		}
	}
}

// handleWatchError reacts to an fsnotify error and reports whether the
// watcher must be recreated. An overflow means events may have been
// dropped, so the file is re-applied rather than waiting for the next
// change.
func (w *Watcher) handleWatchError(ctx context.Context, err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "overflow") {
		w.logger.Warn().
			Err(err).
			Str("action", "watch_overflow").
			Str("path", w.path).
			Msg("Schedule watcher overflowed, reloading file")
		w.debounce(ctx)
		return false
	}

	w.logger.Warn().
		Err(err).
		Str("action", "watch_error").
		Msg("Schedule watcher error")

	// Some backends report watcher closure through the error channel.
	return strings.Contains(msg, "closed")
}

// debounce coalesces an editor's burst of events into one apply.
func (w *Watcher) debounce(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		w.apply(ctx)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// apply reads the file and pushes the change through the controller.
// Invalid content is rejected and the running schedule stays as it was.
func (w *Watcher) apply(ctx context.Context) {
	raw, sf, err := ReadScheduleFile(w.path)
	if err != nil {
		w.logger.Warn().
			Err(err).
			Str("action", "schedule_file_rejected").
			Str("path", w.path).
			Msg("Ignoring invalid schedule file")
		return
	}

	hash := md5.Sum(raw)
	w.mu.Lock()
	unchanged := w.applied && hash == w.lastHash
	w.mu.Unlock()
	if unchanged {
		w.logger.Debug().
			Str("action", "schedule_file_unchanged").
			Msg("Schedule file content unchanged, skipping")
		return
	}

	if w.policy != nil && sf.Misfire != "" {
		w.policy.SetMisfireFireAndProceed(sf.Misfire == "fire_and_proceed")
	}

	if err := w.controller.RescheduleJob(sf.Cron); err != nil {
		w.logger.Error().
			Err(err).
			Str("action", "schedule_file_apply_failed").
			Str("cron", sf.Cron).
			Msg("Failed to apply schedule file")
		return
	}

	w.mu.Lock()
	w.lastHash = hash
	w.applied = true
	w.mu.Unlock()

	w.logger.Info().
		Str("action", "schedule_file_applied").
		Str("cron", sf.Cron).
		Str("misfire", sf.Misfire).
		Msg("Applied schedule file change")

	if w.auditor != nil {
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.auditor.InsertScheduleEvent(actx, store.ScheduleEvent{
			JobName: w.jobName,
			Action:  store.ActionRescheduled,
			Cron:    sf.Cron,
			Actor:   store.ActorWatcher,
		})
		cancel()
		if err != nil {
			w.logger.Warn().
				Err(err).
				Str("action", "audit_failed").
				Msg("Failed to record schedule event")
		}
	}
	if w.notifier != nil {
		w.notifier.Notify(ctx, notifier.Event{
			Event:   notifier.EventRescheduled,
			JobName: w.jobName,
			Cron:    sf.Cron,
		})
	}
}
