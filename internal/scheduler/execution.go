package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/drafting"
	"github.com/DukeRupert/cadence/internal/email"
	"github.com/DukeRupert/cadence/internal/guard"
	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/DukeRupert/cadence/internal/storage"
	"github.com/google/uuid"
)

// outcome is the result of one execution, recorded in metrics.
type outcome string

const (
	outcomeSent            outcome = "sent"
	outcomeFailed          outcome = "failed"
	outcomePendingApproval outcome = "pending_approval"
	outcomeFallback        outcome = "template_fallback"
	outcomeDone            outcome = "done"
	outcomeOptedOut        outcome = "opted_out"
)

var errCapReached = errors.New("send cap reached")

// job is one locked execution with everything its handler needs.
type job struct {
	execution  repository.StepExecution
	enrollment repository.Enrollment
	sequence   repository.Sequence
	step       repository.SequenceStep
	recipient  recipient
	logger     *slog.Logger
	budget     *budget
}

// budget meters SMTP submissions within one cycle. A nil budget is
// unmetered.
type budget struct {
	cap   *guard.RateCap
	pacer *guard.Pacer
}

// spend takes one send slot and waits for the pacer. It is called only
// when a message is about to be submitted.
func (b *budget) spend(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if !b.cap.Take() {
		return errCapReached
	}
	return b.pacer.Wait(ctx)
}

// handler performs one action type inside the execution's transaction.
type handler func(ctx context.Context, q repository.Querier, j *job) (outcome, error)

func (s *Scheduler) handlerTable() map[string]handler {
	return map[string]handler{
		domain.ActionSendTemplate.String(): s.sendTemplate,
		domain.ActionSendAIDraft.String():  s.sendAIDraft,
		domain.ActionCreateTask.String():   s.createTask,
		domain.ActionAdvanceStage.String(): s.advanceStage,
	}
}

// processExecution locks one due execution and runs its handler. An empty
// outcome with a nil error means another runner owns the row or it is no
// longer due.
func (s *Scheduler) processExecution(ctx context.Context, id uuid.UUID, rateCap *guard.RateCap, pacer *guard.Pacer) (outcome, error) {
	const op = "scheduler.process_execution"

	var (
		result outcome
		action string
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		ex, err := q.LockScheduledExecution(ctx, id)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return domain.Internal(err, op, "lock execution")
		}

		j, err := s.loadJob(ctx, q, ex)
		if err != nil {
			return err
		}
		j.budget = &budget{cap: rateCap, pacer: pacer}
		action = j.step.ActionType

		h, ok := s.handlers[action]
		if !ok {
			result, err = s.fail(ctx, q, j, "unknown action type "+action, uuid.NullUUID{})
			return err
		}

		result, err = h(ctx, q, j)
		return err
	})
	if err != nil {
		return "", err
	}
	if result != "" {
		metrics.ExecutionProcessed(action, string(result))
	}
	return result, nil
}

// loadJob reads the enrollment, sequence, step, contact, company and
// trigger entity of ex.
func (s *Scheduler) loadJob(ctx context.Context, q repository.Querier, ex repository.StepExecution) (*job, error) {
	const op = "scheduler.load_job"

	e, err := q.GetEnrollmentForUpdate(ctx, ex.EnrollmentID)
	if err != nil {
		return nil, domain.Internal(err, op, "load enrollment")
	}
	seq, err := q.GetSequence(ctx, e.SequenceID)
	if err != nil {
		return nil, domain.Internal(err, op, "load sequence")
	}
	step, err := q.GetSequenceStep(ctx, ex.StepID)
	if err != nil {
		return nil, domain.Internal(err, op, "load step")
	}
	contact, err := q.GetContact(ctx, e.ContactID)
	if err != nil {
		return nil, domain.Internal(err, op, "load contact")
	}
	company, err := q.GetCompany(ctx, e.CompanyID)
	if err != nil {
		return nil, domain.Internal(err, op, "load company")
	}
	facts := decodeFacts(e)
	ent, err := loadEntity(ctx, q, e, facts)
	if err != nil {
		return nil, domain.Internal(err, op, "load trigger entity")
	}

	return &job{
		execution:  ex,
		enrollment: e,
		sequence:   seq,
		step:       step,
		recipient:  recipient{contact: contact, company: company, entity: ent, facts: facts},
		logger: s.logger.With(
			"execution_id", ex.ID,
			"enrollment_id", e.ID,
			"sequence", seq.Name,
			"step", ex.StepOrdinal,
			"action", step.ActionType,
		),
	}, nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Scheduler) sendTemplate(ctx context.Context, q repository.Querier, j *job) (outcome, error) {
	if o, stop, err := s.checkRecipient(ctx, q, j); stop {
		return o, err
	}

	unsubURL := s.unsubscribeURL(j)
	vars := j.recipient.vars(s.clock.Now(), s.cfg.Hours.Location, unsubURL)
	v := variant(j.step, j.recipient.contact.Language)

	subject := strings.TrimSpace(render.Render(v.Subject, vars))
	body := render.RenderHTML(render.TextToHTML(v.Body), vars)
	if subject == "" || strings.TrimSpace(render.HTMLToText(body)) == "" {
		return s.fail(ctx, q, j, "template rendered an empty subject or body", uuid.NullUUID{})
	}
	return s.deliver(ctx, q, j, subject, body, unsubURL)
}

func (s *Scheduler) sendAIDraft(ctx context.Context, q repository.Querier, j *job) (outcome, error) {
	const op = "scheduler.send_ai_draft"

	if o, stop, err := s.checkRecipient(ctx, q, j); stop {
		return o, err
	}

	now := s.clock.Now()
	steps, err := q.ListSequenceSteps(ctx, j.sequence.ID)
	if err != nil {
		return "", domain.Internal(err, op, "list steps")
	}
	vars := j.recipient.vars(now, s.cfg.Hours.Location, "")
	draft, genErr := s.drafts.Generate(ctx, drafting.Request{
		SequenceName: j.sequence.Name,
		StepOrdinal:  int(j.step.Ordinal),
		StepCount:    len(steps),
		Prompt:       j.step.AiPrompt,
		Template:     variant(j.step, j.recipient.contact.Language),
		ContactName:  vars["contact_name"],
		CompanyName:  j.recipient.company.Name,
		Language:     j.recipient.contact.Language,
		Vars:         vars,
	}, now)

	if genErr != nil {
		hasTemplate := strings.TrimSpace(j.step.SubjectTemplate) != "" && strings.TrimSpace(j.step.BodyTemplate) != ""
		if ai.IsUnavailable(genErr) && hasTemplate {
			j.logger.Warn("AI unavailable, sending template fallback", "error", genErr)
			metrics.AIDraft("fallback")
			o, err := s.sendTemplate(ctx, q, j)
			if o == outcomeSent {
				o = outcomeFallback
			}
			return o, err
		}
		metrics.AIDraft("failed")
		return s.fail(ctx, q, j, "AI draft failed: "+genErr.Error(), uuid.NullUUID{})
	}

	if _, err := q.CreateAIDraft(ctx, repository.CreateAIDraftParams{
		StepExecutionID: j.execution.ID,
		EnrollmentID:    j.enrollment.ID,
		Subject:         draft.Subject,
		Body:            draft.Body,
		ExpiresAt:       draft.ExpiresAt,
		CreatedAt:       now,
	}); err != nil {
		return "", domain.Internal(err, op, "store draft")
	}
	if err := q.MarkExecutionPendingApproval(ctx, repository.MarkExecutionPendingApprovalParams{
		ID:        j.execution.ID,
		AiSubject: draft.Subject,
		AiBody:    draft.Body,
		UpdatedAt: now,
	}); err != nil {
		return "", domain.Internal(err, op, "mark pending approval")
	}
	metrics.AIDraft("created")
	j.logger.Info("AI draft awaiting approval", "expires_at", draft.ExpiresAt, "model", draft.Model)
	return outcomePendingApproval, nil
}

func (s *Scheduler) createTask(ctx context.Context, q repository.Querier, j *job) (outcome, error) {
	const op = "scheduler.create_task"

	now := s.clock.Now()
	vars := j.recipient.vars(now, s.cfg.Hours.Location, "")
	title := strings.TrimSpace(render.Render(j.step.TaskTitle, vars))
	if title == "" {
		title = "Follow up with " + j.recipient.company.Name
	}

	arg := repository.CreateTaskParams{
		CompanyID:   j.enrollment.CompanyID,
		ContactID:   repository.NullUUID(j.enrollment.ContactID),
		Title:       title,
		Description: fmt.Sprintf("Step %d of sequence %q for %s.", j.step.Ordinal, j.sequence.Name, vars["contact_name"]),
		DueDate:     clock.Date(now, s.cfg.Hours.Location).AddDate(0, 0, 1),
		Source:      domain.TaskSource,
		CreatedAt:   now,
	}
	if opp, err := s.opportunity(ctx, q, j); err != nil {
		return "", domain.Internal(err, op, "load opportunity")
	} else if opp != nil {
		arg.OpportunityID = repository.NullUUID(opp.ID)
		arg.AssigneeID = opp.OwnerID
	}
	if !arg.AssigneeID.Valid {
		arg.AssigneeID = j.recipient.company.AccountManagerID
	}

	task, err := q.CreateTask(ctx, arg)
	if err != nil {
		return "", domain.Internal(err, op, "create task")
	}
	if err := q.MarkExecutionSent(ctx, repository.MarkExecutionSentParams{
		ID:     j.execution.ID,
		SentAt: now,
		TaskID: repository.NullUUID(task.ID),
	}); err != nil {
		return "", domain.Internal(err, op, "mark execution done")
	}
	j.logger.Info("Task created", "task_id", task.ID, "title", title, "due", arg.DueDate.Format("2006-01-02"))
	return outcomeDone, s.next(ctx, q, j)
}

func (s *Scheduler) advanceStage(ctx context.Context, q repository.Querier, j *job) (outcome, error) {
	const op = "scheduler.advance_stage"

	target := domain.OpportunityStage(j.step.TargetStage.String)
	if !j.step.TargetStage.Valid || !target.IsValid() {
		return s.fail(ctx, q, j, "step has no valid target stage", uuid.NullUUID{})
	}
	opp, err := s.opportunity(ctx, q, j)
	if err != nil {
		return "", domain.Internal(err, op, "load opportunity")
	}
	if opp == nil {
		return s.fail(ctx, q, j, "no open opportunity to advance", uuid.NullUUID{})
	}

	now := s.clock.Now()
	if err := q.UpdateOpportunityStage(ctx, repository.UpdateOpportunityStageParams{
		ID:             opp.ID,
		Stage:          string(target),
		LastActivityAt: now,
	}); err != nil {
		return "", domain.Internal(err, op, "update stage")
	}
	if err := q.MarkExecutionSent(ctx, repository.MarkExecutionSentParams{ID: j.execution.ID, SentAt: now}); err != nil {
		return "", domain.Internal(err, op, "mark execution done")
	}
	j.logger.Info("Opportunity stage advanced", "opportunity_id", opp.ID, "from", opp.Stage, "to", target)
	return outcomeDone, s.next(ctx, q, j)
}

// =============================================================================
// Shared steps
// =============================================================================

// checkRecipient stops a send whose contact has no address or has opted out
// since enrollment. Opted-out auto enrollments are cancelled.
func (s *Scheduler) checkRecipient(ctx context.Context, q repository.Querier, j *job) (outcome, bool, error) {
	c := j.recipient.contact
	if strings.TrimSpace(c.Email) == "" {
		o, err := s.fail(ctx, q, j, "contact has no email address", uuid.NullUUID{})
		return o, true, err
	}
	if domain.EnrollmentSource(j.enrollment.Source) != domain.EnrollmentSourceAutoTrigger {
		return "", false, nil
	}
	if service.ContactAccepts(c, domain.SequenceType(j.sequence.SequenceType)) {
		return "", false, nil
	}

	if _, err := s.fail(ctx, q, j, "contact opted out", uuid.NullUUID{}); err != nil {
		return "", true, err
	}
	if _, err := s.enroll.Transition(ctx, q, j.enrollment, domain.EnrollmentStatusCancelled, ""); err != nil {
		return "", true, err
	}
	j.logger.Info("Contact opted out since enrollment, cancelled", "contact_id", c.ID)
	return outcomeOptedOut, true, nil
}

// deliver sends one rendered email and records the outcome on the
// execution. A delivery failure commits as a failed execution with its
// failed log row.
func (s *Scheduler) deliver(ctx context.Context, q repository.Querier, j *job, subject, body, unsubURL string) (outcome, error) {
	const op = "scheduler.deliver"

	attachments, err := s.attachments(ctx, j)
	if err != nil {
		return s.fail(ctx, q, j, err.Error(), uuid.NullUUID{})
	}
	if err := j.budget.spend(ctx); err != nil {
		return "", err
	}

	res, err := s.mailer.Send(ctx, q, email.Request{
		Type:           domain.EmailTypeSequence,
		To:             j.recipient.contact.Email,
		From:           s.fromAddress(j.sequence),
		Subject:        subject,
		HTMLBody:       body,
		Attachments:    attachments,
		UnsubscribeURL: unsubURL,
		Correlation: email.Correlation{
			CompanyID:       repository.NullUUID(j.enrollment.CompanyID),
			ContactID:       repository.NullUUID(j.enrollment.ContactID),
			ContractID:      contractID(j.recipient.entity),
			InvoiceID:       invoiceID(j.recipient.entity),
			EnrollmentID:    repository.NullUUID(j.enrollment.ID),
			StepExecutionID: repository.NullUUID(j.execution.ID),
		},
	})
	metrics.EmailAttempted(res.Sent)
	if err != nil {
		return "", err
	}
	if !res.Sent {
		return s.fail(ctx, q, j, res.Error, repository.NullUUID(res.LogID))
	}

	if err := q.MarkExecutionSent(ctx, repository.MarkExecutionSentParams{
		ID:         j.execution.ID,
		SentAt:     s.clock.Now(),
		EmailLogID: repository.NullUUID(res.LogID),
	}); err != nil {
		return "", domain.Internal(err, op, "mark execution sent")
	}
	j.logger.Info("Step sent", "email_log_id", res.LogID, "to", j.recipient.contact.Email, "subject", subject)
	return outcomeSent, s.next(ctx, q, j)
}

// fail marks the execution failed. Failed is terminal; nothing further is
// scheduled until an operator re-queues it.
func (s *Scheduler) fail(ctx context.Context, q repository.Querier, j *job, reason string, logID uuid.NullUUID) (outcome, error) {
	if err := q.MarkExecutionFailed(ctx, repository.MarkExecutionFailedParams{
		ID:           j.execution.ID,
		ErrorMessage: reason,
		EmailLogID:   logID,
		UpdatedAt:    s.clock.Now(),
	}); err != nil {
		return "", domain.Internal(err, "scheduler.fail", "mark execution failed")
	}
	j.logger.Warn("Step failed", "reason", reason)
	return outcomeFailed, nil
}

func (s *Scheduler) next(ctx context.Context, q repository.Querier, j *job) error {
	current, err := q.GetEnrollment(ctx, j.enrollment.ID)
	if err != nil {
		return domain.Internal(err, "scheduler.next", "reload enrollment")
	}
	_, err = s.enroll.ScheduleNext(ctx, q, current, j.execution.StepOrdinal)
	return err
}

// opportunity returns the opportunity a prospect step acts on: the one
// linked by the trigger, else the company's most recent open one.
func (s *Scheduler) opportunity(ctx context.Context, q repository.Querier, j *job) (*repository.Opportunity, error) {
	if opp := j.recipient.entity.opportunity; opp != nil && domain.OpportunityStage(opp.Stage).IsOpen() {
		return opp, nil
	}
	opp, err := q.GetOpenOpportunityForCompany(ctx, j.enrollment.CompanyID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &opp, nil
}

// fromAddress resolves the sender: sequence override, then department
// address, then the default.
func (s *Scheduler) fromAddress(seq repository.Sequence) string {
	if seq.FromEmail.Valid && strings.TrimSpace(seq.FromEmail.String) != "" {
		return seq.FromEmail.String
	}
	if addr := s.cfg.DepartmentFrom[seq.Department]; addr != "" {
		return addr
	}
	return s.cfg.DefaultFrom
}

func (s *Scheduler) unsubscribeURL(j *job) string {
	if s.unsub == nil {
		return ""
	}
	u, err := s.unsub.URL(j.enrollment.ContactID, j.enrollment.ID)
	if err != nil {
		j.logger.Warn("Failed to sign unsubscribe link", "error", err)
		return ""
	}
	return u
}

// attachments loads the trigger entity's document when the step asks for
// it. A step that wants a document but cannot get one fails.
func (s *Scheduler) attachments(ctx context.Context, j *job) ([]email.Attachment, error) {
	if !j.step.AttachDocument {
		return nil, nil
	}
	key := j.recipient.entity.documentKey()
	if key == "" {
		return nil, errors.New("step attaches a document but the trigger record has none")
	}
	if s.docs == nil {
		return nil, errors.New("document storage is not configured")
	}
	doc, err := storage.ReadDocument(ctx, s.docs, key)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", key, err)
	}
	return []email.Attachment{{Filename: doc.Filename, ContentType: doc.ContentType, Data: doc.Data}}, nil
}

func contractID(ent entity) uuid.NullUUID {
	if ent.contract != nil {
		return repository.NullUUID(ent.contract.ID)
	}
	if ent.invoice != nil {
		return ent.invoice.ContractID
	}
	return uuid.NullUUID{}
}

func invoiceID(ent entity) uuid.NullUUID {
	if ent.invoice != nil {
		return repository.NullUUID(ent.invoice.ID)
	}
	return uuid.NullUUID{}
}
