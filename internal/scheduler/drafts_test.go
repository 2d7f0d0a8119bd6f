package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aiSequence is a prospect cadence whose first step is an AI draft and
// whose second is a template three days later.
func aiSequence(t *testing.T, f *fixture, subject, body string) repository.Sequence {
	t.Helper()
	return f.sequence(t, service.CreateSequenceParams{Type: domain.SequenceTypeProspect},
		service.AddStepParams{
			Action:          domain.ActionSendAIDraft,
			AIPrompt:        "Introduce our in-store music service.",
			SubjectTemplate: subject,
			BodyTemplate:    body,
		},
		templateStep(3, "Following up, {{first_name}}", "Hi {{first_name}}, any thoughts?"),
	)
}

// pendingDraft runs a prospect cycle and returns the single draft it made.
func (f *fixture) pendingDraft(t *testing.T) repository.AiDraft {
	t.Helper()
	sum := f.run(t, CycleOptions{Prospect: true})
	require.Equal(t, 1, sum.ByOutcome["pending_approval"])
	drafts := f.store.Drafts()
	require.Len(t, drafts, 1)
	return drafts[0]
}

func TestSendAIDraft_WaitsForApproval(t *testing.T) {
	f := newFixture(t)
	seq := aiSequence(t, f, "", "")
	c, opp, e := f.prospect(t, seq)

	d := f.pendingDraft(t)
	assert.Empty(t, f.transport.Sent(), "drafts are never sent unapproved")
	assert.Equal(t, domain.DraftStatusPendingReview.String(), d.Status)
	assert.Equal(t, t0.Add(24*time.Hour), d.ExpiresAt)
	assert.Equal(t, e.ID, d.EnrollmentID)
	assert.Equal(t, "Music for "+c.Company.Name, d.Subject)

	ex := f.executions(e)[0]
	assert.Equal(t, d.StepExecutionID, ex.ID)
	assert.Equal(t, domain.ExecutionStatusPendingApproval.String(), ex.Status)
	assert.Equal(t, d.Subject, ex.AiSubject.String)

	assert.Equal(t, "Introduce our in-store music service.", f.ai.LastDraft.Instructions)
	assert.Equal(t, opp.Name, f.ai.LastDraft.Facts["opportunity_name"])

	// A second cycle neither regenerates nor sends.
	sum := f.run(t, CycleOptions{Prospect: true})
	assert.Zero(t, sum.Processed)
	assert.Equal(t, 1, f.ai.DraftCalls)
}

func TestApproveDraft_SendsEagerly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := aiSequence(t, f, "", "")
	c, _, e := f.prospect(t, seq)
	d := f.pendingDraft(t)

	f.clock.Advance(2 * time.Hour)
	res, err := f.sched.ApproveDraft(ctx, ApproveParams{
		DraftID:    d.ID,
		Subject:    "Music for your shop",
		ApprovedBy: "jan@cadence.example",
	})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, c.Contact.Email, sent[0].To)
	assert.Equal(t, "Music for your shop", sent[0].Subject)
	assert.Equal(t, d.Body, sent[0].HTMLBody)

	stored := f.store.Drafts()[0]
	assert.Equal(t, domain.DraftStatusApproved.String(), stored.Status)
	assert.Equal(t, "jan@cadence.example", stored.ApprovedBy.String)
	assert.Equal(t, t0.Add(2*time.Hour), stored.ApprovedAt.Time)

	execs := f.executions(e)
	require.Len(t, execs, 2)
	assert.Equal(t, domain.ExecutionStatusSent.String(), execs[0].Status)
	assert.Equal(t, domain.ExecutionStatusScheduled.String(), execs[1].Status)
	assert.Equal(t, t0.Add(2*time.Hour+3*24*time.Hour), execs[1].ScheduledFor)

	// The next cycle has no approved draft left to send.
	sum := f.run(t, CycleOptions{Prospect: true})
	assert.Zero(t, sum.DraftsSent)
	assert.Len(t, f.transport.Sent(), 1)
}

func TestApproveDraft_PausedEnrollmentSendsOnLaterCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := aiSequence(t, f, "", "")
	_, _, e := f.prospect(t, seq)
	d := f.pendingDraft(t)

	require.NoError(t, f.enroll.Pause(ctx, e.ID))
	res, err := f.sched.ApproveDraft(ctx, ApproveParams{DraftID: d.ID})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Empty(t, f.transport.Sent())
	assert.Equal(t, "operator", f.store.Drafts()[0].ApprovedBy.String)

	require.NoError(t, f.enroll.Resume(ctx, e.ID))
	sum := f.run(t, CycleOptions{Prospect: true})
	assert.Equal(t, 1, sum.DraftsSent)
	assert.Len(t, f.transport.Sent(), 1)
	assert.Equal(t, domain.ExecutionStatusSent.String(), f.executions(e)[0].Status)
}

// capped rebuilds the scheduler with a per-cycle send cap of n.
func (f *fixture) capped(n int) {
	f.cfg.MaxPerCycle = n
	f.sched = New(f.deps, f.cfg)
}

// approvedPaused drafts for n prospects, pauses each enrollment and
// approves its draft, so every draft waits on a paused enrollment.
func (f *fixture) approvedPaused(t *testing.T, n int) []repository.Enrollment {
	t.Helper()
	ctx := context.Background()
	seq := aiSequence(t, f, "", "")

	var enrollments []repository.Enrollment
	for range n {
		_, _, e := f.prospect(t, seq)
		enrollments = append(enrollments, e)
	}
	sum := f.run(t, CycleOptions{Prospect: true})
	require.Equal(t, n, sum.ByOutcome["pending_approval"])

	for _, e := range enrollments {
		require.NoError(t, f.enroll.Pause(ctx, e.ID))
	}
	for _, d := range f.store.Drafts() {
		res, err := f.sched.ApproveDraft(ctx, ApproveParams{DraftID: d.ID})
		require.NoError(t, err)
		require.False(t, res.Sent)
	}
	return enrollments
}

func TestSendApprovedDrafts_PausedDraftsLeaveCapForDueSends(t *testing.T) {
	f := newFixture(t)
	f.approvedPaused(t, 2)
	f.capped(1)

	renewal := renewalSequence(t, f)
	c := f.store.SeedCustomer()
	ct := f.store.SeedContract(c.Company.ID, date(2025, 4, 3))
	e := f.enrolled(t, renewal, c.Contact, domain.ContractKey(ct.ID), nil)

	sum := f.run(t, CycleOptions{})
	assert.Zero(t, sum.DraftsSent)
	assert.False(t, sum.CapReached)
	assert.Equal(t, 1, sum.ByOutcome["sent"])
	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, c.Contact.Email, sent[0].To)
	assert.Equal(t, domain.ExecutionStatusSent.String(), f.executions(e)[0].Status)
}

func TestSendApprovedDrafts_SharesCapWithDueSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enrollments := f.approvedPaused(t, 1)
	require.NoError(t, f.enroll.Resume(ctx, enrollments[0].ID))
	f.capped(1)

	renewal := renewalSequence(t, f)
	c := f.store.SeedCustomer()
	ct := f.store.SeedContract(c.Company.ID, date(2025, 4, 3))
	e := f.enrolled(t, renewal, c.Contact, domain.ContractKey(ct.ID), nil)

	sum := f.run(t, CycleOptions{})
	assert.Equal(t, 1, sum.DraftsSent)
	assert.True(t, sum.CapReached)
	assert.Len(t, f.transport.Sent(), 1)
	assert.Equal(t, domain.ExecutionStatusScheduled.String(), f.executions(e)[0].Status,
		"the capped send is rolled back and stays due")

	sum = f.run(t, CycleOptions{})
	assert.Zero(t, sum.DraftsSent)
	assert.False(t, sum.CapReached)
	assert.Equal(t, 1, sum.ByOutcome["sent"])
	assert.Len(t, f.transport.Sent(), 2)
}

func TestApproveDraft_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f *fixture, d repository.AiDraft)
		wantCode string
	}{
		{
			name:     "past expiry",
			setup:    func(t *testing.T, f *fixture, d repository.AiDraft) { f.clock.Advance(25 * time.Hour) },
			wantCode: domain.EGONE,
		},
		{
			name: "already rejected",
			setup: func(t *testing.T, f *fixture, d repository.AiDraft) {
				require.NoError(t, f.sched.RejectDraft(context.Background(), d.ID, "jan"))
			},
			wantCode: domain.ECONFLICT,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seq := aiSequence(t, f, "", "")
			f.prospect(t, seq)
			d := f.pendingDraft(t)
			tt.setup(t, f, d)

			_, err := f.sched.ApproveDraft(context.Background(), ApproveParams{DraftID: d.ID})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			assert.Empty(t, f.transport.Sent())
		})
	}

	t.Run("unknown draft", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sched.ApproveDraft(context.Background(), ApproveParams{DraftID: uuid.New()})
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	})
}

func TestRejectDraft_ContinuesChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := aiSequence(t, f, "", "")
	_, _, e := f.prospect(t, seq)
	d := f.pendingDraft(t)

	require.NoError(t, f.sched.RejectDraft(ctx, d.ID, "jan"))
	assert.Empty(t, f.transport.Sent())
	assert.Equal(t, domain.DraftStatusRejected.String(), f.store.Drafts()[0].Status)

	execs := f.executions(e)
	require.Len(t, execs, 2)
	assert.Equal(t, domain.ExecutionStatusFailed.String(), execs[0].Status)
	assert.Equal(t, "rejected by reviewer", execs[0].ErrorMessage.String)
	assert.Equal(t, domain.ExecutionStatusScheduled.String(), execs[1].Status)

	err := f.sched.RejectDraft(ctx, d.ID, "jan")
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestExpireDrafts_SchedulesNextStep(t *testing.T) {
	f := newFixture(t)
	seq := aiSequence(t, f, "", "")
	_, _, e := f.prospect(t, seq)
	d := f.pendingDraft(t)

	// Exactly at the deadline the draft is still approvable.
	f.clock.Set(d.ExpiresAt)
	n, err := f.sched.ExpireDrafts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(d.ExpiresAt.Add(time.Minute))
	sum := f.run(t, CycleOptions{Prospect: true})
	assert.Equal(t, 1, sum.Expired)
	assert.Empty(t, f.transport.Sent())

	assert.Equal(t, domain.DraftStatusExpired.String(), f.store.Drafts()[0].Status)
	execs := f.executions(e)
	require.Len(t, execs, 2)
	assert.Equal(t, domain.ExecutionStatusExpired.String(), execs[0].Status)
	assert.Equal(t, domain.ExecutionStatusScheduled.String(), execs[1].Status)
	assert.Equal(t, f.clock.Now().Add(3*24*time.Hour), execs[1].ScheduledFor)
	assert.Equal(t, domain.EnrollmentStatusActive.String(), f.enrollment(t, e.ID).Status)

	n, err = f.sched.ExpireDrafts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "expiry is idempotent")
}

func TestSendAIDraft_ProviderFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		subject     string
		body        string
		wantOutcome string
		wantSent    int
		wantMessage string
	}{
		{
			name:        "unavailable falls back to the template",
			err:         ai.EAIUnavailable,
			subject:     "Music for {{company_name}}",
			body:        "Hi {{first_name}}, we make stores sound better.",
			wantOutcome: "template_fallback",
			wantSent:    1,
		},
		{
			name:        "unavailable without a template fails",
			err:         ai.EAIRateLimit,
			wantOutcome: "failed",
			wantMessage: "AI draft failed",
		},
		{
			name:        "invalid response never falls back",
			err:         ai.EAIInvalidResponse,
			subject:     "Music for {{company_name}}",
			body:        "Hi there.",
			wantOutcome: "failed",
			wantMessage: "AI draft failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seq := aiSequence(t, f, tt.subject, tt.body)
			c, _, e := f.prospect(t, seq)
			f.ai.DraftError = tt.err

			sum := f.run(t, CycleOptions{Prospect: true})
			assert.Equal(t, 1, sum.ByOutcome[tt.wantOutcome])
			assert.Empty(t, f.store.Drafts())

			sent := f.transport.Sent()
			require.Len(t, sent, tt.wantSent)
			ex := f.executions(e)[0]
			if tt.wantSent > 0 {
				assert.Equal(t, "Music for "+c.Company.Name, sent[0].Subject)
				assert.Equal(t, domain.ExecutionStatusSent.String(), ex.Status)
				return
			}
			assert.Equal(t, domain.ExecutionStatusFailed.String(), ex.Status)
			assert.Contains(t, ex.ErrorMessage.String, tt.wantMessage)
		})
	}
}
