package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/cadence/internal"
	"github.com/DukeRupert/cadence/internal/handler"
	"github.com/DukeRupert/cadence/internal/jobs"
	"github.com/DukeRupert/cadence/internal/worker"
)

// finishedJobRetention is how long completed and failed jobs are kept.
const finishedJobRetention = 7 * 24 * time.Hour

func serveCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	migrate := fs.Bool("migrate", true, "apply migrations before starting")
	return func(ctx context.Context, a *app) error {
		return serve(ctx, a, *migrate)
	}
}

func serve(ctx context.Context, a *app, migrate bool) error {
	cfg, logger := a.cfg, a.logger

	if migrate {
		if err := internal.RunMigrations(ctx, a.db, a.logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Worker and schedule
	// ==========================================================================

	var w *worker.Worker
	var cron *worker.Scheduler
	if cfg.WorkerEnabled {
		var err error
		w, err = worker.New(a.store, a.locker, worker.Config{
			Concurrency:       cfg.WorkerConcurrency,
			PollInterval:      cfg.WorkerPollInterval,
			JobTimeout:        cfg.WorkerJobTimeout,
			ShutdownTimeout:   30 * time.Second,
			StaleJobThreshold: cfg.WorkerJobTimeout + 5*time.Minute,
		}, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}

		cron = worker.NewScheduler(a.store, cfg.BusinessLocation, logger)
		entries := []worker.Entry{
			{Spec: cfg.CronCheckReplies, JobType: worker.JobTypeCheckReplies, Payload: struct{}{}},
			{Spec: cfg.CronExpireDrafts, JobType: worker.JobTypeExpireDrafts, Payload: struct{}{}},
			{Spec: cfg.CronSeasonalDates, JobType: worker.JobTypeSeasonalDates, Payload: worker.SeasonalDatesPayload{}},
		}
		w.Register(jobs.NewCheckRepliesHandler(a.replies, logger))
		w.Register(jobs.NewExpireDraftsHandler(a.scheduler, logger))
		w.Register(jobs.NewSeasonalDatesHandler(a.evaluator, a.clock, logger))

		if cfg.SMTPConfigured() {
			w.Register(jobs.NewEmailCycleHandler(a.scheduler, logger))
			w.Register(jobs.NewProspectCycleHandler(a.scheduler, logger))
			entries = append(entries,
				worker.Entry{Spec: cfg.CronEmailCycle, JobType: worker.JobTypeEmailCycle, Payload: worker.CyclePayload{}},
				worker.Entry{Spec: cfg.CronProspectCycle, JobType: worker.JobTypeProspectCycle, Payload: worker.CyclePayload{}},
			)
		} else {
			logger.Warn("SMTP not configured, send cycles are not scheduled")
		}

		if err := cron.Add(entries...); err != nil {
			return err
		}

		// In-flight jobs finish on Stop rather than being cut off by the signal.
		w.Start(context.WithoutCancel(ctx))
		cron.Start()
		go purgeJobs(ctx, a, w)
	} else {
		logger.Info("Worker disabled")
	}

	// ==========================================================================
	// HTTP
	// ==========================================================================

	checks := map[string]handler.Checker{"database": a.store}
	if a.redis != nil {
		checks["redis"] = a.redis
	}

	var unsub *handler.UnsubscribeHandler
	if a.signer != nil {
		unsub = handler.NewUnsubscribeHandler(a.signer, a.enroll, logger)
	}

	router, closeRouter := handler.NewRouter(handler.RouterConfig{
		Health:          handler.NewHealthHandler(checks, logger),
		Unsubscribe:     unsub,
		MetricsUsername: cfg.MetricsUsername,
		MetricsPassword: cfg.MetricsPassword,
		IsSecure:        cfg.Env != "development",
		Logger:          logger,
	})
	defer closeRouter()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case runErr = <-serverErr:
		logger.Error("Server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if cron != nil {
		cron.Stop(shutdownCtx)
	}
	if w != nil {
		w.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return runErr
}

// purgeJobs deletes old finished jobs once a day.
func purgeJobs(ctx context.Context, a *app, w *worker.Worker) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.PurgeFinished(ctx, a.clock.Now().Add(-finishedJobRetention))
			if err != nil {
				a.logger.Error("Failed to purge finished jobs", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("Purged finished jobs", "count", n)
			}
		}
	}
}
