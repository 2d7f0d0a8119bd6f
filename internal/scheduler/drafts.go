package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/guard"
	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
)

// ApproveParams is a reviewer's decision to send a draft, optionally with
// an edited subject or body.
type ApproveParams struct {
	DraftID    uuid.UUID
	Subject    string
	Body       string
	ApprovedBy string
}

// ApproveResult reports what approval did.
type ApproveResult struct {
	Draft repository.AiDraft
	// Sent is false when the draft was approved but the send was deferred
	// (paused enrollment) or failed; the execution records which.
	Sent    bool
	Outcome string
}

// ApproveDraft approves a pending draft and sends it straight away. Drafts
// past their expires_at cannot be approved.
func (s *Scheduler) ApproveDraft(ctx context.Context, p ApproveParams) (*ApproveResult, error) {
	const op = "scheduler.approve_draft"

	var draft repository.AiDraft
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		d, err := s.lockDraft(ctx, q, op, p.DraftID)
		if err != nil {
			return err
		}
		if !domain.DraftStatus(d.Status).CanTransitionTo(domain.DraftStatusApproved) {
			return domain.Conflict(op, "draft is "+d.Status)
		}
		now := s.clock.Now()
		if domain.DraftExpired(d.ExpiresAt, now) {
			return domain.Gone(op, "draft expired at "+d.ExpiresAt.Format("2006-01-02 15:04 MST"))
		}

		subject, body := d.Subject, d.Body
		if strings.TrimSpace(p.Subject) != "" {
			subject = strings.TrimSpace(p.Subject)
		}
		if strings.TrimSpace(p.Body) != "" {
			body = render.SanitizeHTML(render.TextToHTML(p.Body))
		}
		approvedBy := p.ApprovedBy
		if approvedBy == "" {
			approvedBy = "operator"
		}

		if err := q.UpdateAIDraftStatus(ctx, repository.UpdateAIDraftStatusParams{
			ID:         d.ID,
			Status:     domain.DraftStatusApproved.String(),
			Subject:    subject,
			Body:       body,
			ApprovedAt: repository.NullTime(now),
			ApprovedBy: repository.NullString(approvedBy),
		}); err != nil {
			return domain.Internal(err, op, "approve draft")
		}
		d.Status, d.Subject, d.Body = domain.DraftStatusApproved.String(), subject, body
		d.ApprovedAt = sql.NullTime{Time: now, Valid: true}
		d.ApprovedBy = repository.NullString(approvedBy)
		draft = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AIDraft("approved")
	s.logger.Info("Draft approved", "draft_id", draft.ID, "approved_by", draft.ApprovedBy.String)

	o, err := s.sendApproved(ctx, draft.ID, nil)
	if err != nil {
		return &ApproveResult{Draft: draft}, err
	}
	return &ApproveResult{Draft: draft, Sent: o == outcomeSent, Outcome: string(o)}, nil
}

// RejectDraft discards a pending draft. The execution fails with "rejected
// by reviewer" and the chain continues with the next step.
func (s *Scheduler) RejectDraft(ctx context.Context, draftID uuid.UUID, rejectedBy string) error {
	const op = "scheduler.reject_draft"

	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		d, err := s.lockDraft(ctx, q, op, draftID)
		if err != nil {
			return err
		}
		if !domain.DraftStatus(d.Status).CanTransitionTo(domain.DraftStatusRejected) {
			return domain.Conflict(op, "draft is "+d.Status)
		}
		if err := q.UpdateAIDraftStatus(ctx, repository.UpdateAIDraftStatusParams{
			ID:         d.ID,
			Status:     domain.DraftStatusRejected.String(),
			Subject:    d.Subject,
			Body:       d.Body,
			ApprovedBy: repository.NullString(rejectedBy),
		}); err != nil {
			return domain.Internal(err, op, "reject draft")
		}

		ex, err := q.LockPendingExecution(ctx, d.StepExecutionID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return domain.Internal(err, op, "lock execution")
		}
		if err := q.MarkExecutionFailed(ctx, repository.MarkExecutionFailedParams{
			ID:           ex.ID,
			ErrorMessage: "rejected by reviewer",
			UpdatedAt:    s.clock.Now(),
		}); err != nil {
			return domain.Internal(err, op, "fail execution")
		}
		return s.continueChain(ctx, q, op, ex)
	})
	if err != nil {
		return err
	}
	metrics.AIDraft("rejected")
	s.logger.Info("Draft rejected", "draft_id", draftID, "rejected_by", rejectedBy)
	return nil
}

// ExpireDrafts expires every pending draft past its deadline, marks its
// execution expired and schedules the next step regardless. It returns the
// number expired.
func (s *Scheduler) ExpireDrafts(ctx context.Context) (int, error) {
	const op = "scheduler.expire_drafts"

	ids, err := s.store.ListExpiredDraftIDs(ctx, s.clock.Now())
	if err != nil {
		return 0, domain.Internal(err, op, "list expired drafts")
	}

	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		done := false
		err := s.store.ExecTx(ctx, func(q repository.Querier) error {
			d, err := q.GetAIDraftForUpdate(ctx, id)
			if err != nil {
				return domain.Internal(err, op, "lock draft")
			}
			now := s.clock.Now()
			if domain.DraftStatus(d.Status) != domain.DraftStatusPendingReview || !domain.DraftExpired(d.ExpiresAt, now) {
				return nil
			}
			if err := q.UpdateAIDraftStatus(ctx, repository.UpdateAIDraftStatusParams{
				ID:      d.ID,
				Status:  domain.DraftStatusExpired.String(),
				Subject: d.Subject,
				Body:    d.Body,
			}); err != nil {
				return domain.Internal(err, op, "expire draft")
			}

			ex, err := q.LockPendingExecution(ctx, d.StepExecutionID)
			if err != nil {
				if repository.IsNotFound(err) {
					done = true
					return nil
				}
				return domain.Internal(err, op, "lock execution")
			}
			if err := q.MarkExecutionExpired(ctx, repository.MarkExecutionExpiredParams{ID: ex.ID, UpdatedAt: now}); err != nil {
				return domain.Internal(err, op, "expire execution")
			}
			done = true
			return s.continueChain(ctx, q, op, ex)
		})
		if err != nil {
			s.logger.Error("Failed to expire draft", "draft_id", id, "error", err)
			continue
		}
		if done {
			expired++
			metrics.AIDraft("expired")
			s.logger.Info("Draft expired", "draft_id", id)
		}
	}
	return expired, nil
}

// sendApprovedDrafts sends drafts approved since the last cycle that were
// not sent eagerly.
func (s *Scheduler) sendApprovedDrafts(ctx context.Context, sum *Summary, rateCap *guard.RateCap, pacer *guard.Pacer) error {
	ids, err := s.store.ListApprovedUnsentDraftIDs(ctx, int32(s.cfg.MaxPerCycle))
	if err != nil {
		return domain.Internal(err, "scheduler.send_approved_drafts", "list approved drafts")
	}
	b := &budget{cap: rateCap, pacer: pacer}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := s.sendApproved(ctx, id, b)
		switch {
		case errors.Is(err, errCapReached):
			sum.CapReached = true
			return nil
		case err != nil:
			sum.Errors++
			s.logger.Error("Failed to send approved draft", "draft_id", id, "error", err)
		case o == outcomeSent:
			sum.DraftsSent++
		}
	}
	return nil
}

// sendApproved sends one approved draft and schedules the next step. A
// paused enrollment defers the send to a later cycle; a stopped one fails
// the execution. An empty outcome means there was nothing to do. Only an
// actual send draws on b.
func (s *Scheduler) sendApproved(ctx context.Context, draftID uuid.UUID, b *budget) (outcome, error) {
	const op = "scheduler.send_approved"

	var result outcome
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		d, err := s.lockDraft(ctx, q, op, draftID)
		if err != nil {
			return err
		}
		if domain.DraftStatus(d.Status) != domain.DraftStatusApproved {
			return nil
		}
		ex, err := q.LockPendingExecution(ctx, d.StepExecutionID)
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
		j.budget = b

		switch status := domain.EnrollmentStatus(j.enrollment.Status); {
		case status == domain.EnrollmentStatusPaused:
			j.logger.Info("Enrollment paused, approved draft waits")
			return nil
		case status != domain.EnrollmentStatusActive:
			result, err = s.fail(ctx, q, j, "enrollment is "+j.enrollment.Status, uuid.NullUUID{})
			return err
		}

		if o, stop, err := s.checkRecipient(ctx, q, j); stop {
			result = o
			return err
		}
		result, err = s.deliver(ctx, q, j, d.Subject, d.Body, s.unsubscribeURL(j))
		return err
	})
	if err != nil {
		return "", err
	}
	if result != "" {
		metrics.ExecutionProcessed(domain.ActionSendAIDraft.String(), string(result))
	}
	return result, nil
}

func (s *Scheduler) lockDraft(ctx context.Context, q repository.Querier, op string, id uuid.UUID) (repository.AiDraft, error) {
	d, err := q.GetAIDraftForUpdate(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return d, domain.NotFound(op, "draft", id.String())
		}
		return d, domain.Internal(err, op, "load draft")
	}
	return d, nil
}

// continueChain schedules the step after ex when its enrollment can still
// run steps.
func (s *Scheduler) continueChain(ctx context.Context, q repository.Querier, op string, ex repository.StepExecution) error {
	e, err := q.GetEnrollment(ctx, ex.EnrollmentID)
	if err != nil {
		return domain.Internal(err, op, "load enrollment")
	}
	_, err = s.enroll.ScheduleNext(ctx, q, e, ex.StepOrdinal)
	return err
}
