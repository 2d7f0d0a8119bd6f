package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/inbound"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/google/uuid"
)

// Action names recorded in Reply.action_taken.
const (
	ActionNone           = "none"
	ActionReplied        = "enrollment_replied"
	ActionPaused         = "enrollment_paused"
	ActionCancelled      = "enrollment_cancelled"
	ActionSiblingsPaused = "siblings_paused"
	ActionTaskCreated    = "task_created"
	ActionStageAdvanced  = "stage_advanced"
	ActionOptedOut       = "contact_opted_out"
)

// Outcome is what the dispatcher did for one reply.
type Outcome struct {
	Actions     []string
	TaskID      uuid.NullUUID
	NeedsReview bool
}

// ActionTaken renders the actions for storage.
func (o Outcome) ActionTaken() string {
	if len(o.Actions) == 0 {
		return ActionNone
	}
	return strings.Join(o.Actions, ",")
}

// Dispatcher applies the per-label reply policy to a matched enrollment.
type Dispatcher struct {
	enroll   *service.EnrollmentService
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. Task due dates are calendar days in
// loc.
func NewDispatcher(enroll *service.EnrollmentService, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{enroll: enroll, clock: clk, location: loc, logger: logger}
}

// Dispatch runs inside the caller's transaction. The enrollment is re-read
// with a row lock, so the policy applies to its current status rather than
// to the matcher's copy. With no enrollment the reply is only recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, q repository.Querier, msg *inbound.Message, class Classification, matched *repository.Enrollment) (Outcome, error) {
	const op = "reply.dispatch"

	policy := domain.PolicyFor(class.Label)
	out := Outcome{NeedsReview: class.NeedsReview || policy.ForceReview}
	if matched == nil {
		return out, nil
	}

	locked, err := q.GetEnrollmentForUpdate(ctx, matched.ID)
	switch {
	case repository.IsNotFound(err):
		return out, nil
	case err != nil:
		return out, domain.Internal(err, op, "lock enrollment")
	}
	enrollment := &locked

	logger := d.logger.With(
		"enrollment_id", enrollment.ID,
		"company_id", enrollment.CompanyID,
		"classification", class.Label,
	)

	if policy.OptOut {
		if _, err := d.enroll.Unsubscribe(ctx, q, enrollment.ContactID); err != nil {
			return out, err
		}
		out.Actions = append(out.Actions, ActionOptedOut, ActionCancelled)
	} else {
		changed, err := d.moveEnrollment(ctx, q, *enrollment, policy, logger)
		if err != nil {
			return out, err
		}
		if changed != "" {
			out.Actions = append(out.Actions, changed)
		}
	}

	if policy.PauseSiblings {
		n, err := d.enroll.PauseCompanySiblings(ctx, q, enrollment.CompanyID, enrollment.ID)
		if err != nil {
			return out, err
		}
		if n > 0 {
			out.Actions = append(out.Actions, ActionSiblingsPaused)
		}
	}

	var opportunity *repository.Opportunity
	if policy.CreateTask || policy.AdvanceStage {
		opp, err := q.GetOpenOpportunityForCompany(ctx, enrollment.CompanyID)
		switch {
		case err == nil:
			opportunity = &opp
		case !repository.IsNotFound(err):
			return out, domain.Internal(err, op, "load open opportunity")
		}
	}

	if policy.CreateTask {
		task, err := d.createTask(ctx, q, msg, class, policy, *enrollment, opportunity)
		if err != nil {
			return out, err
		}
		out.TaskID = repository.NullUUID(task.ID)
		out.Actions = append(out.Actions, ActionTaskCreated)
	}

	if policy.AdvanceStage && opportunity != nil && domain.OpportunityStage(opportunity.Stage) == domain.StageContacted {
		if err := q.UpdateOpportunityStage(ctx, repository.UpdateOpportunityStageParams{
			ID:             opportunity.ID,
			Stage:          string(domain.StageQuotationSent),
			LastActivityAt: d.clock.Now(),
		}); err != nil {
			return out, domain.Internal(err, op, "advance opportunity stage")
		}
		out.Actions = append(out.Actions, ActionStageAdvanced)
		logger.Info("Opportunity advanced", "opportunity_id", opportunity.ID, "stage", domain.StageQuotationSent)
	}

	if policy.Warn {
		logger.Warn("Reply indicates undeliverable address", "from", msg.From, "subject", msg.Subject)
	}
	return out, nil
}

// moveEnrollment applies the policy status. An enrollment that can no
// longer make the move (a late reply to a cancelled one) is left alone.
func (d *Dispatcher) moveEnrollment(ctx context.Context, q repository.Querier, e repository.Enrollment, policy domain.ReplyPolicy, logger *slog.Logger) (string, error) {
	current := domain.EnrollmentStatus(e.Status)
	target := policy.EnrollmentStatus
	if current == target && target != domain.EnrollmentStatusPaused {
		return "", nil
	}
	if current != target && !current.CanTransitionTo(target) {
		logger.Info("Enrollment status unchanged by reply", "status", e.Status, "wanted", target)
		return "", nil
	}
	if _, err := d.enroll.Transition(ctx, q, e, target, policy.PauseReason); err != nil {
		return "", err
	}
	switch target {
	case domain.EnrollmentStatusPaused:
		return ActionPaused, nil
	case domain.EnrollmentStatusCancelled:
		return ActionCancelled, nil
	}
	return ActionReplied, nil
}

func (d *Dispatcher) createTask(ctx context.Context, q repository.Querier, msg *inbound.Message, class Classification, policy domain.ReplyPolicy, e repository.Enrollment, opp *repository.Opportunity) (repository.Task, error) {
	const op = "reply.create_task"

	now := d.clock.Now()
	arg := repository.CreateTaskParams{
		CompanyID:   e.CompanyID,
		ContactID:   repository.NullUUID(e.ContactID),
		Title:       policy.TaskTitle,
		Description: taskDescription(msg, class),
		DueDate:     clock.Date(now, d.location).AddDate(0, 0, policy.TaskDueDays),
		Source:      domain.TaskSource,
		CreatedAt:   now,
	}
	if opp != nil {
		arg.OpportunityID = repository.NullUUID(opp.ID)
		arg.AssigneeID = opp.OwnerID
	}
	if !arg.AssigneeID.Valid {
		if company, err := q.GetCompany(ctx, e.CompanyID); err == nil {
			arg.AssigneeID = company.AccountManagerID
		}
	}

	task, err := q.CreateTask(ctx, arg)
	if err != nil {
		return task, domain.Internal(err, op, "create task")
	}
	return task, nil
}

func taskDescription(msg *inbound.Message, class Classification) string {
	body := StripQuoted(msg.Body)
	if len([]rune(body)) > 1000 {
		body = string([]rune(body)[:1000]) + "…"
	}
	return fmt.Sprintf("Reply from %s classified as %s (%.2f, %s).\nSubject: %s\n\n%s",
		msg.From, class.Label, class.Confidence, class.Method, msg.Subject, body)
}
