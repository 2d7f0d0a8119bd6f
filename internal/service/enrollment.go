package service

// This file implements the enrollment lifecycle: creating enrollments with
// their first step execution, advancing them step by step, and the status
// changes driven by replies, operators and unsubscribe requests.

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Skip reasons reported by Enroll when no enrollment was created.
const (
	SkipDuplicate = "duplicate"
	SkipOptedOut  = "opted_out"
	SkipNoEmail   = "no_email"
	SkipInactive  = "sequence_inactive"
)

// EnrollParams describes one enrollment request.
type EnrollParams struct {
	SequenceID uuid.UUID               `validate:"required"`
	ContactID  uuid.UUID               `validate:"required"`
	Source     domain.EnrollmentSource `validate:"required,oneof=auto_trigger manual"`
	// Trigger is the idempotency key. Manual enrollments usually have none.
	Trigger *domain.TriggerKey
	// Context holds facts about the trigger entity, stored with the
	// enrollment and merged into the render variables.
	Context map[string]string
}

// EnrollResult reports what Enroll did.
type EnrollResult struct {
	Enrollment repository.Enrollment
	Execution  repository.StepExecution
	Created    bool
	SkipReason string
}

// EnrollmentService owns enrollment state. Methods taking a
// repository.Querier run inside the caller's transaction; the others open
// their own.
type EnrollmentService struct {
	store    repository.Store
	clock    clock.Clock
	logger   *slog.Logger
	validate *validator.Validate
}

// NewEnrollmentService creates an EnrollmentService.
func NewEnrollmentService(store repository.Store, clk clock.Clock, logger *slog.Logger) *EnrollmentService {
	return &EnrollmentService{
		store:    store,
		clock:    clk,
		logger:   logger,
		validate: newValidator(),
	}
}

// =============================================================================
// Enroll
// =============================================================================

// Enroll creates an enrollment and schedules its first step at
// enrolled_at + step1.delay_days. Auto-triggered enrollments skip contacts
// that opted out globally or for the sequence's category, and skip silently
// when the trigger key already exists. Manual enrollment ignores opt-outs.
func (s *EnrollmentService) Enroll(ctx context.Context, q repository.Querier, p EnrollParams) (EnrollResult, error) {
	const op = "enrollment.enroll"

	if err := s.validate.Struct(p); err != nil {
		return EnrollResult{}, validationError(op, err)
	}

	seq, err := q.GetSequence(ctx, p.SequenceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return EnrollResult{}, domain.NotFound(op, "sequence", p.SequenceID.String())
		}
		return EnrollResult{}, domain.Internal(err, op, "load sequence")
	}
	if domain.SequenceStatus(seq.Status) != domain.SequenceStatusActive {
		if p.Source == domain.EnrollmentSourceManual {
			return EnrollResult{}, domain.Invalid(op, "sequence is not active")
		}
		return EnrollResult{SkipReason: SkipInactive}, nil
	}

	contact, err := q.GetContact(ctx, p.ContactID)
	if err != nil {
		if repository.IsNotFound(err) {
			return EnrollResult{}, domain.NotFound(op, "contact", p.ContactID.String())
		}
		return EnrollResult{}, domain.Internal(err, op, "load contact")
	}
	if strings.TrimSpace(contact.Email) == "" {
		if p.Source == domain.EnrollmentSourceManual {
			return EnrollResult{}, domain.Invalid(op, "contact has no email address")
		}
		return EnrollResult{SkipReason: SkipNoEmail}, nil
	}
	if p.Source == domain.EnrollmentSourceAutoTrigger && !ContactAccepts(contact, domain.SequenceType(seq.SequenceType)) {
		return EnrollResult{SkipReason: SkipOptedOut}, nil
	}

	var triggerType, triggerID sql.NullString
	if p.Trigger != nil {
		triggerType = repository.NullString(p.Trigger.Type.String())
		triggerID = repository.NullString(p.Trigger.ID)

		existing, err := q.GetEnrollmentByTrigger(ctx, repository.GetEnrollmentByTriggerParams{
			SequenceID:        seq.ID,
			TriggerEntityType: p.Trigger.Type.String(),
			TriggerEntityID:   p.Trigger.ID,
		})
		if err == nil {
			return EnrollResult{Enrollment: existing, SkipReason: SkipDuplicate}, nil
		}
		if !repository.IsNotFound(err) {
			return EnrollResult{}, domain.Internal(err, op, "check trigger key")
		}
	}

	var triggerContext pqtype.NullRawMessage
	if len(p.Context) > 0 {
		raw, err := json.Marshal(p.Context)
		if err != nil {
			return EnrollResult{}, domain.Internal(err, op, "encode trigger context")
		}
		triggerContext = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	first, err := q.GetStepByOrdinal(ctx, repository.GetStepByOrdinalParams{SequenceID: seq.ID, Ordinal: 1})
	if err != nil {
		if repository.IsNotFound(err) {
			return EnrollResult{}, domain.Invalid(op, "sequence has no steps")
		}
		return EnrollResult{}, domain.Internal(err, op, "load first step")
	}

	now := s.clock.Now()
	enrollment, err := q.CreateEnrollment(ctx, repository.CreateEnrollmentParams{
		SequenceID:        seq.ID,
		CompanyID:         contact.CompanyID,
		ContactID:         contact.ID,
		Source:            string(p.Source),
		TriggerEntityType: triggerType,
		TriggerEntityID:   triggerID,
		TriggerContext:    triggerContext,
		EnrolledAt:        now,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return EnrollResult{SkipReason: SkipDuplicate}, nil
		}
		return EnrollResult{}, domain.Internal(err, op, "create enrollment")
	}

	execution, err := q.CreateStepExecution(ctx, repository.CreateStepExecutionParams{
		EnrollmentID: enrollment.ID,
		StepID:       first.ID,
		StepOrdinal:  first.Ordinal,
		ScheduledFor: domain.NextRunAt(now, int(first.DelayDays)),
		CreatedAt:    now,
	})
	if err != nil {
		return EnrollResult{}, domain.Internal(err, op, "schedule first step")
	}

	trigger := "manual"
	if p.Trigger != nil {
		trigger = p.Trigger.Type.String()
	}
	metrics.EnrollmentCreated(trigger)
	s.logger.Info("Enrollment created",
		"enrollment_id", enrollment.ID,
		"sequence_id", seq.ID,
		"contact_id", contact.ID,
		"source", p.Source,
		"trigger", trigger,
		"first_run", execution.ScheduledFor,
	)

	return EnrollResult{Enrollment: enrollment, Execution: execution, Created: true}, nil
}

// EnrollManual enrolls a contact on an operator's request.
func (s *EnrollmentService) EnrollManual(ctx context.Context, sequenceID, contactID uuid.UUID) (EnrollResult, error) {
	var res EnrollResult
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		res, err = s.Enroll(ctx, q, EnrollParams{
			SequenceID: sequenceID,
			ContactID:  contactID,
			Source:     domain.EnrollmentSourceManual,
		})
		return err
	})
	return res, err
}

// ContactAccepts reports whether trigger-based mail of sequence type t may
// be sent to c.
func ContactAccepts(c repository.Contact, t domain.SequenceType) bool {
	if !c.ReceivesNotifications {
		return false
	}
	switch domain.PreferenceFor(t) {
	case domain.PreferenceRenewal:
		return c.ReceivesRenewalReminders
	case domain.PreferencePayment:
		return c.ReceivesPaymentReminders
	case domain.PreferenceQuarterly:
		return c.ReceivesQuarterlyUpdates
	case domain.PreferenceSales:
		return c.ReceivesSalesOutreach
	default:
		return c.ReceivesSeasonalGreetings
	}
}

// =============================================================================
// Advancing
// =============================================================================

// ScheduleNext runs after step completedOrdinal of e reached a terminal
// state. It records the step pointer, then either schedules the following
// step at now + delay_days or completes the enrollment. Enrollments that
// can no longer run steps (replied, cancelled, completed) are left alone.
// The returned execution is nil when nothing was scheduled.
func (s *EnrollmentService) ScheduleNext(ctx context.Context, q repository.Querier, e repository.Enrollment, completedOrdinal int32) (*repository.StepExecution, error) {
	const op = "enrollment.schedule_next"

	now := s.clock.Now()
	if completedOrdinal > e.CurrentStep {
		if err := q.UpdateEnrollmentStep(ctx, repository.UpdateEnrollmentStepParams{
			ID:          e.ID,
			CurrentStep: completedOrdinal,
			UpdatedAt:   now,
		}); err != nil {
			return nil, domain.Internal(err, op, "advance step pointer")
		}
	}

	status := domain.EnrollmentStatus(e.Status)
	if !status.AcceptsNextStep() {
		return nil, nil
	}

	next, err := q.GetStepByOrdinal(ctx, repository.GetStepByOrdinalParams{
		SequenceID: e.SequenceID,
		Ordinal:    completedOrdinal + 1,
	})
	if err != nil {
		if !repository.IsNotFound(err) {
			return nil, domain.Internal(err, op, "load next step")
		}
		if status != domain.EnrollmentStatusActive {
			// A paused enrollment with no steps left completes on resume.
			return nil, nil
		}
		if _, err := q.UpdateEnrollmentStatus(ctx, repository.UpdateEnrollmentStatusParams{
			ID:          e.ID,
			Status:      domain.EnrollmentStatusCompleted.String(),
			CompletedAt: repository.NullTime(now),
			UpdatedAt:   now,
		}); err != nil {
			return nil, domain.Internal(err, op, "complete enrollment")
		}
		s.logger.Info("Enrollment completed", "enrollment_id", e.ID, "steps", completedOrdinal)
		return nil, nil
	}

	ex, err := q.CreateStepExecution(ctx, repository.CreateStepExecutionParams{
		EnrollmentID: e.ID,
		StepID:       next.ID,
		StepOrdinal:  next.Ordinal,
		ScheduledFor: domain.NextRunAt(now, int(next.DelayDays)),
		CreatedAt:    now,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, domain.Conflict(op, "enrollment already has an open step execution")
		}
		return nil, domain.Internal(err, op, "schedule next step")
	}
	s.logger.Debug("Next step scheduled",
		"enrollment_id", e.ID, "ordinal", next.Ordinal, "scheduled_for", ex.ScheduledFor)
	return &ex, nil
}

// =============================================================================
// Status changes
// =============================================================================

// Transition moves e to target, stamping the matching timestamp. The
// reason is recorded only for paused. Invalid transitions return EINVALID.
func (s *EnrollmentService) Transition(ctx context.Context, q repository.Querier, e repository.Enrollment, target domain.EnrollmentStatus, reason domain.PauseReason) (repository.Enrollment, error) {
	const op = "enrollment.transition"

	current := domain.EnrollmentStatus(e.Status)
	if current == target && target != domain.EnrollmentStatusPaused {
		return e, nil
	}
	if current != target && !current.CanTransitionTo(target) {
		return e, domain.Invalid(op, "cannot move a "+e.Status+" enrollment to "+target.String())
	}

	now := s.clock.Now()
	arg := repository.UpdateEnrollmentStatusParams{
		ID:        e.ID,
		Status:    target.String(),
		UpdatedAt: now,
	}
	switch target {
	case domain.EnrollmentStatusPaused:
		arg.PauseReason = repository.NullString(string(reason))
		arg.PausedAt = repository.NullTime(now)
	case domain.EnrollmentStatusReplied:
		// A reply also stops the clock on the chain.
		arg.PausedAt = repository.NullTime(now)
	case domain.EnrollmentStatusCompleted:
		arg.CompletedAt = repository.NullTime(now)
	case domain.EnrollmentStatusCancelled:
		arg.CancelledAt = repository.NullTime(now)
	}

	updated, err := q.UpdateEnrollmentStatus(ctx, arg)
	if err != nil {
		return e, domain.Internal(err, op, "update enrollment status")
	}
	s.logger.Info("Enrollment status changed",
		"enrollment_id", e.ID, "from", e.Status, "to", target, "reason", reason)
	return updated, nil
}

// PauseCompanySiblings pauses every active enrollment of the company other
// than except with reason reply-received. It returns the number paused.
func (s *EnrollmentService) PauseCompanySiblings(ctx context.Context, q repository.Querier, companyID, except uuid.UUID) (int, error) {
	const op = "enrollment.pause_siblings"

	active, err := q.ListActiveEnrollmentsByCompany(ctx, companyID)
	if err != nil {
		return 0, domain.Internal(err, op, "list company enrollments")
	}
	paused := 0
	for _, e := range active {
		if e.ID == except {
			continue
		}
		if _, err := s.Transition(ctx, q, e, domain.EnrollmentStatusPaused, domain.PauseReasonReplyReceived); err != nil {
			return paused, err
		}
		paused++
	}
	if paused > 0 {
		s.logger.Info("Paused sibling enrollments", "company_id", companyID, "count", paused)
	}
	return paused, nil
}

// Pause pauses an active enrollment on an operator's request.
func (s *EnrollmentService) Pause(ctx context.Context, id uuid.UUID) error {
	return s.change(ctx, "enrollment.pause", id, domain.EnrollmentStatusPaused, domain.PauseReasonManual)
}

// Cancel stops an enrollment on an operator's request.
func (s *EnrollmentService) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.change(ctx, "enrollment.cancel", id, domain.EnrollmentStatusCancelled, "")
}

// Resume reactivates a paused enrollment. Its scheduled execution becomes
// eligible again; if it has none, the chain continues from the current
// step.
func (s *EnrollmentService) Resume(ctx context.Context, id uuid.UUID) error {
	const op = "enrollment.resume"
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		e, err := s.lockEnrollment(ctx, q, op, id)
		if err != nil {
			return err
		}
		if domain.EnrollmentStatus(e.Status) != domain.EnrollmentStatusPaused {
			return domain.Invalid(op, "only paused enrollments can be resumed")
		}
		e, err = s.Transition(ctx, q, e, domain.EnrollmentStatusActive, "")
		if err != nil {
			return err
		}

		_, err = q.GetOpenExecutionForEnrollment(ctx, e.ID)
		if err == nil {
			return nil
		}
		if !repository.IsNotFound(err) {
			return domain.Internal(err, op, "load open execution")
		}
		_, err = s.ScheduleNext(ctx, q, e, e.CurrentStep)
		return err
	})
}

func (s *EnrollmentService) change(ctx context.Context, op string, id uuid.UUID, target domain.EnrollmentStatus, reason domain.PauseReason) error {
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		e, err := s.lockEnrollment(ctx, q, op, id)
		if err != nil {
			return err
		}
		_, err = s.Transition(ctx, q, e, target, reason)
		return err
	})
}

func (s *EnrollmentService) lockEnrollment(ctx context.Context, q repository.Querier, op string, id uuid.UUID) (repository.Enrollment, error) {
	e, err := q.GetEnrollmentForUpdate(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return e, domain.NotFound(op, "enrollment", id.String())
		}
		return e, domain.Internal(err, op, "load enrollment")
	}
	return e, nil
}

// Requeue replaces a failed execution with a new scheduled execution of the
// same step, due now.
func (s *EnrollmentService) Requeue(ctx context.Context, executionID uuid.UUID) (repository.StepExecution, error) {
	const op = "enrollment.requeue"

	var ex repository.StepExecution
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		failed, err := q.GetStepExecution(ctx, executionID)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.NotFound(op, "step execution", executionID.String())
			}
			return domain.Internal(err, op, "load execution")
		}
		if domain.ExecutionStatus(failed.Status) != domain.ExecutionStatusFailed {
			return domain.Invalid(op, "only failed executions can be re-queued")
		}

		e, err := s.lockEnrollment(ctx, q, op, failed.EnrollmentID)
		if err != nil {
			return err
		}
		if !domain.EnrollmentStatus(e.Status).AcceptsNextStep() {
			return domain.Invalid(op, "enrollment is "+e.Status)
		}

		now := s.clock.Now()
		ex, err = q.CreateStepExecution(ctx, repository.CreateStepExecutionParams{
			EnrollmentID: e.ID,
			StepID:       failed.StepID,
			StepOrdinal:  failed.StepOrdinal,
			ScheduledFor: now,
			CreatedAt:    now,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.Conflict(op, "enrollment already has an open step execution")
			}
			return domain.Internal(err, op, "create execution")
		}
		s.logger.Info("Execution re-queued", "failed_execution_id", failed.ID, "execution_id", ex.ID)
		return nil
	})
	return ex, err
}

// Unsubscribe clears the contact's global notification flag and cancels
// every enrollment of the contact that could still send. It returns the
// number of enrollments cancelled.
func (s *EnrollmentService) Unsubscribe(ctx context.Context, q repository.Querier, contactID uuid.UUID) (int, error) {
	const op = "enrollment.unsubscribe"

	if err := q.SetContactNotifications(ctx, repository.SetContactNotificationsParams{
		ID:                    contactID,
		ReceivesNotifications: false,
	}); err != nil {
		return 0, domain.Internal(err, op, "clear notification flag")
	}

	all, err := q.ListEnrollmentsByContact(ctx, contactID)
	if err != nil {
		return 0, domain.Internal(err, op, "list enrollments")
	}
	cancelled := 0
	for _, e := range all {
		if !domain.EnrollmentStatus(e.Status).AcceptsNextStep() {
			continue
		}
		if _, err := s.Transition(ctx, q, e, domain.EnrollmentStatusCancelled, ""); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	s.logger.Info("Contact unsubscribed", "contact_id", contactID, "enrollments_cancelled", cancelled)
	return cancelled, nil
}

// UnsubscribeContact runs Unsubscribe in its own transaction.
func (s *EnrollmentService) UnsubscribeContact(ctx context.Context, contactID uuid.UUID) (int, error) {
	const op = "enrollment.unsubscribe"
	var n int
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if _, err := q.GetContact(ctx, contactID); err != nil {
			if repository.IsNotFound(err) {
				return domain.NotFound(op, "contact", contactID.String())
			}
			return domain.Internal(err, op, "load contact")
		}
		var err error
		n, err = s.Unsubscribe(ctx, q, contactID)
		return err
	})
	return n, err
}
