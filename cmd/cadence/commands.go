package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/DukeRupert/cadence/internal"
	"github.com/DukeRupert/cadence/internal/jobs"
	"github.com/DukeRupert/cadence/internal/scheduler"
	"github.com/DukeRupert/cadence/internal/worker"
	"github.com/google/uuid"
)

// command declares its flags on fs and returns the function that runs it.
type command func(fs *flag.FlagSet) func(ctx context.Context, a *app) error

var commands = map[string]command{
	"process-email-cycle":    cycleCommand(false),
	"process-prospect-cycle": cycleCommand(true),
	"check-replies":          checkRepliesCommand,
	"set-seasonal-dates":     seasonalDatesCommand,
	"expire-ai-drafts":       expireDraftsCommand,
	"approve-draft":          approveDraftCommand,
	"reject-draft":           rejectDraftCommand,
	"requeue-execution":      requeueCommand,
	"enroll":                 enrollCommand,
	"resume":                 resumeCommand,
	"migrate":                migrateCommand,
	"serve":                  serveCommand,
}

// =============================================================================
// Entry points
// =============================================================================

// runEntryPoint runs h once under the cycle lock of its job type, the same
// path the worker takes in serve mode.
func runEntryPoint(ctx context.Context, a *app, h worker.JobHandler, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	release, err := a.locker.Acquire(ctx, h.Type(), a.cfg.CycleLockTTL)
	if errors.Is(err, worker.ErrLocked) {
		a.logger.Info("Another run holds the cycle lock, skipping", "entry_point", h.Type())
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	return h.Handle(ctx, body)
}

func cycleCommand(prospect bool) command {
	return func(fs *flag.FlagSet) func(context.Context, *app) error {
		force := fs.Bool("force", false, "run outside business hours")
		return func(ctx context.Context, a *app) error {
			if !a.cfg.SMTPConfigured() {
				a.logger.Warn("SMTP not configured, skipping cycle")
				return nil
			}
			h := jobs.NewEmailCycleHandler(a.scheduler, a.logger)
			if prospect {
				h = jobs.NewProspectCycleHandler(a.scheduler, a.logger)
			}
			return runEntryPoint(ctx, a, h, worker.CyclePayload{Force: *force})
		}
	}
}

func checkRepliesCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		return runEntryPoint(ctx, a, jobs.NewCheckRepliesHandler(a.replies, a.logger), struct{}{})
	}
}

func seasonalDatesCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	year := fs.Int("year", 0, "calendar year (default: next year)")
	return func(ctx context.Context, a *app) error {
		h := jobs.NewSeasonalDatesHandler(a.evaluator, a.clock, a.logger)
		return runEntryPoint(ctx, a, h, worker.SeasonalDatesPayload{Year: *year})
	}
}

func expireDraftsCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		return runEntryPoint(ctx, a, jobs.NewExpireDraftsHandler(a.scheduler, a.logger), struct{}{})
	}
}

// =============================================================================
// Operator actions
// =============================================================================

func parseID(name, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("-%s is required: %w", name, errUsage)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-%s: %v: %w", name, err, errUsage)
	}
	return id, nil
}

func approveDraftCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	id := fs.String("id", "", "AI draft ID")
	subject := fs.String("subject", "", "replace the drafted subject")
	body := fs.String("body", "", "replace the drafted body (plain text)")
	by := fs.String("by", "", "reviewer name")
	return func(ctx context.Context, a *app) error {
		draftID, err := parseID("id", *id)
		if err != nil {
			return err
		}
		if !a.cfg.SMTPConfigured() {
			return errors.New("SMTP is not configured; approved drafts cannot be sent")
		}
		res, err := a.scheduler.ApproveDraft(ctx, scheduler.ApproveParams{
			DraftID:    draftID,
			Subject:    *subject,
			Body:       *body,
			ApprovedBy: *by,
		})
		if err != nil {
			return err
		}
		if res.Sent {
			fmt.Fprintf(os.Stdout, "draft %s approved and sent\n", draftID)
		} else if res.Outcome != "" {
			fmt.Fprintf(os.Stdout, "draft %s approved, send %s\n", draftID, res.Outcome)
		} else {
			fmt.Fprintf(os.Stdout, "draft %s approved, will send once its enrollment is active\n", draftID)
		}
		return nil
	}
}

func rejectDraftCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	id := fs.String("id", "", "AI draft ID")
	by := fs.String("by", "", "reviewer name")
	return func(ctx context.Context, a *app) error {
		draftID, err := parseID("id", *id)
		if err != nil {
			return err
		}
		if err := a.scheduler.RejectDraft(ctx, draftID, *by); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "draft %s rejected\n", draftID)
		return nil
	}
}

func requeueCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	id := fs.String("id", "", "failed step execution ID")
	return func(ctx context.Context, a *app) error {
		execID, err := parseID("id", *id)
		if err != nil {
			return err
		}
		ex, err := a.enroll.Requeue(ctx, execID)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "execution %s requeued as %s, due %s\n", execID, ex.ID, ex.ScheduledFor.Format("2006-01-02 15:04 MST"))
		return nil
	}
}

func enrollCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	seq := fs.String("sequence", "", "sequence ID")
	contact := fs.String("contact", "", "contact ID")
	return func(ctx context.Context, a *app) error {
		seqID, err := parseID("sequence", *seq)
		if err != nil {
			return err
		}
		contactID, err := parseID("contact", *contact)
		if err != nil {
			return err
		}
		res, err := a.enroll.EnrollManual(ctx, seqID, contactID)
		if err != nil {
			return err
		}
		if !res.Created {
			fmt.Fprintf(os.Stdout, "not enrolled: %s\n", res.SkipReason)
			return nil
		}
		fmt.Fprintf(os.Stdout, "enrollment %s created, first step due %s\n",
			res.Enrollment.ID, res.Execution.ScheduledFor.Format("2006-01-02 15:04 MST"))
		return nil
	}
}

func resumeCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	id := fs.String("enrollment", "", "paused enrollment ID")
	return func(ctx context.Context, a *app) error {
		enrollmentID, err := parseID("enrollment", *id)
		if err != nil {
			return err
		}
		if err := a.enroll.Resume(ctx, enrollmentID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "enrollment %s resumed\n", enrollmentID)
		return nil
	}
}

// =============================================================================
// Operations
// =============================================================================

func migrateCommand(fs *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		if err := internal.RunMigrations(ctx, a.db, a.logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		a.logger.Info("Database migrated")
		return nil
	}
}
