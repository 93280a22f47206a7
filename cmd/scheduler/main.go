package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/schedlens/core/internal/config"
	"github.com/schedlens/core/pkg/cronengine"
	"github.com/schedlens/core/pkg/jobs"
	"github.com/schedlens/core/pkg/logger"
	"github.com/schedlens/core/pkg/notifier"
	"github.com/schedlens/core/pkg/policy"
	"github.com/schedlens/core/pkg/scheduling"
	"github.com/schedlens/core/pkg/server"
	"github.com/schedlens/core/pkg/store"
	"github.com/schedlens/core/pkg/watcher"
)

// schedulerLockName is the advisory lock shared by every instance of this
// service. Whoever holds it runs the schedule.
const schedulerLockName = "schedule-controller"

func main() {
	var (
		validateOnly = flag.Bool("validate", false, "Validate configuration and cron expression, then exit")
		skipMigrate  = flag.Bool("skip-migrations", false, "Skip running database migrations on startup")
	)
	flag.Parse()

	// Setup structured logging
	logger.SetupLogger()
	log := logger.New("scheduler")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "config_load_failed").
			Msg("Failed to load configuration")
	}

	if err := cronengine.ValidateSpec(cfg.Job.Cron); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "invalid_cron").
			Str("cron", cfg.Job.Cron).
			Msg("Invalid cron expression")
	}

	if *validateOnly {
		fmt.Printf("configuration ok: job %q cron %q misfire %s type %s\n",
			cfg.Job.Name, cfg.Job.Cron, cfg.Job.Misfire, cfg.Job.Type)
		return
	}

	// Connect to database
	pool, err := connectWithRetry(cfg.DatabaseURL(), log)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "db_connect_failed").
			Msg("Failed to connect to database")
	}
	defer pool.Close()

	if !*skipMigrate {
		if err := store.Migrate(cfg.DatabaseURL()); err != nil {
			log.Fatal().
				Err(err).
				Str("action", "migrations_failed").
				Msg("Failed to run database migrations")
		}
	}

	st := store.New(pool)

	// Advisory locks are session scoped, so the lock gets its own
	// connection pinned for the lifetime of the process.
	lockConn, err := pool.Acquire(context.Background())
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "lock_conn_failed").
			Msg("Failed to acquire lock connection")
	}
	defer lockConn.Release()

	lock := store.NewResourceLock(lockConn, schedulerLockName)
	acquireCtx, cancelAcquire := context.WithTimeout(context.Background(), 10*time.Second)
	held, err := lock.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "lock_acquire_failed").
			Msg("Failed to acquire scheduler lock")
	}
	if !held {
		log.Fatal().
			Str("action", "lock_unavailable").
			Str("lock", schedulerLockName).
			Msg("Another scheduler instance holds the lock")
	}

	facade := policy.NewSchedulerFacade(cfg.MisfireFireAndProceed(), lock)

	job, err := jobs.FromConfig(cfg)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "job_setup_failed").
			Msg("Failed to build job from configuration")
	}

	var recorder cronengine.Recorder
	if cfg.Job.RecordRuns {
		recorder = st
	}
	engine := cronengine.New(&cronengine.Config{
		Recorder:   recorder,
		RunTimeout: time.Duration(cfg.Job.Timeout) * time.Second,
	})

	controller := scheduling.NewController(engine, scheduling.JobDescriptor{
		Key:         scheduling.JobKey(cfg.Job.Name),
		Description: cfg.Job.Description,
		Handler:     job,
	}, facade, scheduling.TriggerIdentityFor(cfg.Job.Name))

	if err := controller.ScheduleJob(cfg.Job.Cron); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "schedule_failed").
			Str("cron", cfg.Job.Cron).
			Msg("Failed to schedule job")
	}

	notify := notifier.New(cfg.Webhook.URL, time.Duration(cfg.Webhook.Timeout)*time.Second)

	auditEvent(st, log, store.ScheduleEvent{
		JobName: cfg.Job.Name,
		Action:  store.ActionScheduled,
		Cron:    cfg.Job.Cron,
		Actor:   store.ActorStartup,
	})
	startupEvent := notifier.Event{
		Event:           notifier.EventScheduled,
		JobName:         cfg.Job.Name,
		TriggerIdentity: string(controller.TriggerIdentity()),
		Cron:            cfg.Job.Cron,
	}
	if next, ok := controller.NextFireTime(); ok {
		startupEvent.NextFireTime = &next
	}
	notify.Notify(context.Background(), startupEvent)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if cfg.Watch.ScheduleFile != "" {
		w := watcher.New(watcher.Deps{
			Path:       cfg.Watch.ScheduleFile,
			JobName:    cfg.Job.Name,
			Controller: controller,
			Policy:     facade,
			Auditor:    st,
			Notifier:   notify,
		})
		// A schedule file that predates the process wins over JOB_CRON.
		w.ApplyExisting(watchCtx)
		go func() {
			if err := w.Watch(watchCtx); err != nil {
				log.Error().
					Err(err).
					Str("action", "watcher_stopped").
					Msg("Schedule file watcher stopped")
			}
		}()
	}

	srv := server.New(server.Deps{
		Config:     cfg,
		Controller: controller,
		Engine:     engine,
		Policy:     facade,
		Store:      st,
		Notifier:   notify,
		Pool:       pool,
	}, log)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().
				Err(err).
				Str("action", "server_failed").
				Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().
		Str("action", "shutdown_started").
		Msg("Shutting down scheduler")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().
			Err(err).
			Str("action", "server_shutdown_failed").
			Msg("Failed to stop server cleanly")
	}
	cancelWatch()

	if err := controller.Shutdown(); err != nil {
		log.Error().
			Err(err).
			Str("action", "scheduler_shutdown_failed").
			Msg("Failed to shut down scheduler cleanly")
	}

	auditEvent(st, log, store.ScheduleEvent{
		JobName: cfg.Job.Name,
		Action:  store.ActionShutdown,
		Actor:   store.ActorSignal,
	})
	notify.Notify(context.Background(), notifier.Event{
		Event:           notifier.EventShutdown,
		JobName:         cfg.Job.Name,
		TriggerIdentity: string(controller.TriggerIdentity()),
	})

	log.Info().
		Str("action", "shutdown_complete").
		Msg("Scheduler stopped")
}

// connectWithRetry opens the pool, retrying while the database comes up.
func connectWithRetry(databaseURL string, log *logger.Logger) (*pgxpool.Pool, error) {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := store.NewPool(ctx, databaseURL, nil)
		cancel()

		if err == nil {
			return pool, nil
		}

		if i == maxRetries-1 {
			return nil, fmt.Errorf("failed to connect to database after %d retries: %w", maxRetries, err)
		}

		log.Warn().
			Err(err).
			Int("attempt", i+1).
			Str("action", "db_connect_retry").
			Msg("Retrying database connection")
		time.Sleep(2 * time.Second)
	}

	return nil, nil
}

func auditEvent(st *store.Store, log *logger.Logger, event store.ScheduleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.InsertScheduleEvent(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("action", "audit_failed").
			Str("event_action", event.Action).
			Msg("Failed to record schedule event")
	}
}
