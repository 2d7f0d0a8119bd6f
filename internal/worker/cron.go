package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/robfig/cron/v3"
)

// Entry is one scheduled entry point.
type Entry struct {
	// Spec is a standard five-field cron expression.
	Spec    string
	JobType string
	Payload any
}

// Scheduler enqueues entry-point jobs on their cron schedules. The worker
// pool runs them; the queue's one-open-job-per-type rule keeps a slow cycle
// from piling up behind itself.
type Scheduler struct {
	cron   *cron.Cron
	store  repository.Store
	logger *slog.Logger
}

// NewScheduler creates a Scheduler that evaluates specs in loc.
func NewScheduler(store repository.Store, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With("component", "cron")
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{logger})),
		store:  store,
		logger: logger,
	}
}

// Add registers entries. An empty spec disables the entry.
func (s *Scheduler) Add(entries ...Entry) error {
	for _, e := range entries {
		if e.Spec == "" {
			s.logger.Info("Entry point not scheduled", "job_type", e.JobType)
			continue
		}
		if _, err := s.cron.AddFunc(e.Spec, func() { s.enqueue(e) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", e.JobType, e.Spec, err)
		}
		s.logger.Info("Entry point scheduled", "job_type", e.JobType, "spec", e.Spec)
	}
	return nil
}

func (s *Scheduler) enqueue(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := EnqueueJob(ctx, s.store, e.JobType, e.Payload)
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		s.logger.Info("Previous run still queued, skipping tick", "job_type", e.JobType)
	case err != nil:
		s.logger.Error("Failed to enqueue scheduled job", "job_type", e.JobType, "error", err)
	default:
		s.logger.Debug("Scheduled job enqueued", "job_type", e.JobType, "job_id", job.ID)
	}
}

// Start runs the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for in-flight enqueues.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
