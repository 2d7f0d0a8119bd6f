// Package scheduler runs the send cycle: it gates on business hours, lets
// the trigger evaluator enroll new contacts, expires stale AI drafts, sends
// approved ones and then processes every due step execution, each in its
// own transaction.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/drafting"
	"github.com/DukeRupert/cadence/internal/email"
	"github.com/DukeRupert/cadence/internal/guard"
	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/DukeRupert/cadence/internal/storage"
	"github.com/DukeRupert/cadence/internal/trigger"
	"github.com/DukeRupert/cadence/internal/unsubscribe"
)

// Cycle names, used for metrics and logs.
const (
	CycleEmail    = "email_cycle"
	CycleProspect = "prospect_cycle"
)

// Config holds the scheduler settings.
type Config struct {
	Hours          guard.BusinessHours
	MaxPerCycle    int
	SendsPerSecond float64

	// DefaultFrom is used when neither the sequence nor its department
	// names a sender.
	DefaultFrom    string
	DepartmentFrom map[string]string
}

// Triggers creates enrollments at the start of a cycle.
type Triggers interface {
	RunCustomer(ctx context.Context) (*trigger.Summary, error)
	RunProspect(ctx context.Context) (*trigger.Summary, error)
}

// Deps are the collaborators of a Scheduler. Triggers, Documents and
// Unsubscribe may be nil.
type Deps struct {
	Store       repository.Store
	Enrollments *service.EnrollmentService
	Mailer      *email.Mailer
	Drafts      *drafting.Generator
	Triggers    Triggers
	Documents   storage.Storage
	Unsubscribe *unsubscribe.Signer
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Scheduler processes due step executions.
type Scheduler struct {
	store    repository.Store
	enroll   *service.EnrollmentService
	mailer   *email.Mailer
	drafts   *drafting.Generator
	triggers Triggers
	docs     storage.Storage
	unsub    *unsubscribe.Signer
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
	handlers map[string]handler
}

// New creates a Scheduler.
func New(d Deps, cfg Config) *Scheduler {
	if cfg.MaxPerCycle < 1 {
		cfg.MaxPerCycle = 100
	}
	if cfg.Hours.Location == nil {
		cfg.Hours.Location = time.UTC
	}
	s := &Scheduler{
		store:    d.Store,
		enroll:   d.Enrollments,
		mailer:   d.Mailer,
		drafts:   d.Drafts,
		triggers: d.Triggers,
		docs:     d.Documents,
		unsub:    d.Unsubscribe,
		clock:    d.Clock,
		cfg:      cfg,
		logger:   d.Logger.With("component", "scheduler"),
	}
	s.handlers = s.handlerTable()
	return s
}

// CycleOptions selects the cycle variant.
type CycleOptions struct {
	// Prospect runs the prospect cadences instead of the customer
	// automations.
	Prospect bool

	// Force skips the business-hours gate.
	Force bool
}

// Summary counts what one cycle did.
type Summary struct {
	Cycle      string
	Skipped    bool
	Enrolled   int
	Expired    int
	DraftsSent int
	Processed  int
	Errors     int
	CapReached bool
	ByOutcome  map[string]int
}

func (s *Summary) count(o outcome) {
	s.Processed++
	s.ByOutcome[string(o)]++
}

// RunCycle runs one cycle. Per-execution failures are counted and logged;
// the returned error is set only when the cycle could not run at all or
// every trigger source failed.
func (s *Scheduler) RunCycle(ctx context.Context, opts CycleOptions) (*Summary, error) {
	name := CycleEmail
	if opts.Prospect {
		name = CycleProspect
	}
	sum := &Summary{Cycle: name, ByOutcome: make(map[string]int)}
	logger := s.logger.With("cycle", name)

	now := s.clock.Now()
	if !opts.Force && !s.cfg.Hours.Open(now) {
		sum.Skipped = true
		metrics.CycleSkipped(name, "outside_hours")
		logger.Info("Outside business hours, skipping cycle",
			"local_time", now.In(s.cfg.Hours.Location).Format(time.DateTime))
		return sum, nil
	}

	var triggerErr error
	if s.triggers != nil {
		var ts *trigger.Summary
		if opts.Prospect {
			ts, triggerErr = s.triggers.RunProspect(ctx)
		} else {
			ts, triggerErr = s.triggers.RunCustomer(ctx)
		}
		if ts != nil {
			sum.Enrolled = ts.Total()
		}
		if triggerErr != nil {
			sum.Errors++
			logger.Error("Trigger evaluation failed", "error", triggerErr)
		}
	}

	expired, err := s.ExpireDrafts(ctx)
	sum.Expired = expired
	if err != nil {
		sum.Errors++
		logger.Error("Draft expiry failed", "error", err)
	}

	rateCap := guard.NewRateCap(s.cfg.MaxPerCycle)
	pacer := guard.NewPacer(s.cfg.SendsPerSecond)

	if err := s.sendApprovedDrafts(ctx, sum, rateCap, pacer); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sum, err
		}
		sum.Errors++
		logger.Error("Sending approved drafts failed", "error", err)
	}

	if err := s.processDue(ctx, opts.Prospect, sum, rateCap, pacer); err != nil {
		return sum, err
	}

	logger.Info("Cycle complete",
		"enrolled", sum.Enrolled,
		"drafts_expired", sum.Expired,
		"drafts_sent", sum.DraftsSent,
		"processed", sum.Processed,
		"by_outcome", sum.ByOutcome,
		"errors", sum.Errors,
		"cap_reached", sum.CapReached,
	)
	return sum, triggerErr
}

// processDue handles the due executions of one cycle variant in
// scheduled_for order. Each submitted message draws on the rate cap; when
// it is spent the remaining rows wait for the next cycle.
func (s *Scheduler) processDue(ctx context.Context, prospect bool, sum *Summary, rateCap *guard.RateCap, pacer *guard.Pacer) error {
	ids, err := s.store.ListDueExecutionIDs(ctx, repository.ListDueExecutionIDsParams{
		Now:      s.clock.Now(),
		Prospect: prospect,
		Limit:    int32(s.cfg.MaxPerCycle),
	})
	if err != nil {
		sum.Errors++
		s.logger.Error("Failed to list due executions", "error", err)
		return nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := s.processExecution(ctx, id, rateCap, pacer)
		switch {
		case errors.Is(err, errCapReached):
			sum.CapReached = true
			s.logger.Info("Send cap reached, deferring remaining executions",
				"cap", s.cfg.MaxPerCycle, "remaining", len(ids)-sum.Processed)
			return nil
		case err != nil:
			sum.Errors++
			s.logger.Error("Execution failed to process", "execution_id", id, "error", err)
		case o == "":
			// Taken by a concurrent runner or no longer due.
		default:
			sum.count(o)
		}
	}
	return nil
}
