// Package trigger scans the CRM each cycle and enrolls contacts whose
// contracts, invoices, holidays or opportunities newly meet a sequence's
// conditions. Every enrollment is keyed by its trigger entity, so running an
// evaluation twice creates nothing new.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/google/uuid"
)

const (
	// quarterDays is the length of a contract quarter for check-ins.
	quarterDays = 90

	// defaultProspectLookbackDays bounds the new-opportunity and quote scans
	// when a sequence sets no offset.
	defaultProspectLookbackDays = 7
)

// Config holds the evaluator settings.
type Config struct {
	// Location is the business timezone; "today" is computed in it.
	Location *time.Location

	// StaleDealDays is the default inactivity before a deal counts as stale.
	StaleDealDays int
}

// Summary counts what one evaluation did.
type Summary struct {
	Created map[domain.TriggerEntityType]int
	Skipped map[string]int
	Failed  int
}

func newSummary() *Summary {
	return &Summary{
		Created: make(map[domain.TriggerEntityType]int),
		Skipped: make(map[string]int),
	}
}

// Total returns the number of enrollments created.
func (s *Summary) Total() int {
	n := 0
	for _, c := range s.Created {
		n += c
	}
	return n
}

// Evaluator creates trigger-driven enrollments.
type Evaluator struct {
	store  repository.Store
	enroll *service.EnrollmentService
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(store repository.Store, enroll *service.EnrollmentService, clk clock.Clock, cfg Config, logger *slog.Logger) *Evaluator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StaleDealDays <= 0 {
		cfg.StaleDealDays = 14
	}
	return &Evaluator{
		store:  store,
		enroll: enroll,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With("component", "trigger"),
	}
}

// scan is one enrollment source.
type scan struct {
	name string
	run  func(ctx context.Context, today time.Time, sum *Summary) error
}

// RunCustomer evaluates the renewal, payment, quarterly and seasonal
// triggers. A failing source is logged and the others still run; the
// returned error joins the source failures.
func (ev *Evaluator) RunCustomer(ctx context.Context) (*Summary, error) {
	return ev.run(ctx, "customer", []scan{
		{"renewal", ev.renewals},
		{"payment", ev.payments},
		{"quarterly", ev.quarterlies},
		{"seasonal", ev.seasonals},
	})
}

// RunProspect evaluates the new-opportunity, stale-deal and quote-sent
// triggers of prospect cadences.
func (ev *Evaluator) RunProspect(ctx context.Context) (*Summary, error) {
	return ev.run(ctx, "prospect", []scan{
		{"prospect", ev.prospects},
	})
}

func (ev *Evaluator) run(ctx context.Context, kind string, scans []scan) (*Summary, error) {
	start := time.Now()
	today := clock.Date(ev.clock.Now(), ev.cfg.Location)
	sum := newSummary()

	var errs []error
	for _, sc := range scans {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := sc.run(ctx, today, sum); err != nil {
			ev.logger.Error("Trigger scan failed", "source", sc.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sc.name, err))
		}
	}

	ev.logger.Info("Trigger evaluation finished",
		"kind", kind,
		"today", today.Format(time.DateOnly),
		"created", sum.Total(),
		"by_trigger", sum.Created,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"duration", time.Since(start),
	)
	return sum, errors.Join(errs...)
}

// enroll creates one enrollment in its own transaction. Errors are counted
// and logged, never returned: one bad record must not stop the scan.
func (ev *Evaluator) enrollOne(ctx context.Context, sum *Summary, seq repository.Sequence, contact repository.Contact, key domain.TriggerKey, facts map[string]string) {
	var res service.EnrollResult
	err := ev.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		res, err = ev.enroll.Enroll(ctx, q, service.EnrollParams{
			SequenceID: seq.ID,
			ContactID:  contact.ID,
			Source:     domain.EnrollmentSourceAutoTrigger,
			Trigger:    &key,
			Context:    facts,
		})
		return err
	})
	switch {
	case err != nil:
		sum.Failed++
		ev.logger.Error("Enrollment failed",
			"sequence_id", seq.ID, "contact_id", contact.ID, "trigger", key.String(), "error", err)
	case res.Created:
		sum.Created[key.Type]++
	default:
		sum.Skipped[res.SkipReason]++
		ev.logger.Debug("Enrollment skipped",
			"sequence_id", seq.ID, "contact_id", contact.ID, "trigger", key.String(), "reason", res.SkipReason)
	}
}

// window returns the advance window of a sequence: trigger_offset_days, or
// the first step's delay when no offset is set.
func (ev *Evaluator) window(ctx context.Context, seq repository.Sequence) (int, error) {
	if seq.TriggerOffsetDays > 0 {
		return int(seq.TriggerOffsetDays), nil
	}
	first, err := ev.store.GetStepByOrdinal(ctx, repository.GetStepByOrdinalParams{SequenceID: seq.ID, Ordinal: 1})
	if err != nil {
		return 0, fmt.Errorf("load first step of %s: %w", seq.ID, err)
	}
	return int(first.DelayDays), nil
}

// =============================================================================
// Contact selection
// =============================================================================

type role func(repository.Contact) bool

func primary(c repository.Contact) bool       { return c.IsPrimary }
func decisionMaker(c repository.Contact) bool { return c.IsDecisionMaker }
func billing(c repository.Contact) bool       { return c.IsBilling }

// pickContact walks the roles in order and returns the first contact that
// holds the role and accepts mail of type t. When no such contact exists
// the first role holder is returned so the enrollment records the opt-out.
func pickContact(contacts []repository.Contact, t domain.SequenceType, roles ...role) (repository.Contact, bool) {
	var fallback *repository.Contact
	for _, r := range roles {
		for i, c := range contacts {
			if !r(c) {
				continue
			}
			if service.ContactAccepts(c, t) {
				return c, true
			}
			if fallback == nil {
				fallback = &contacts[i]
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return repository.Contact{}, false
}

func (ev *Evaluator) companyContact(ctx context.Context, companyID uuid.UUID, t domain.SequenceType, roles ...role) (repository.Contact, bool, error) {
	contacts, err := ev.store.ListCompanyContacts(ctx, companyID)
	if err != nil {
		return repository.Contact{}, false, err
	}
	c, ok := pickContact(contacts, t, roles...)
	return c, ok, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
