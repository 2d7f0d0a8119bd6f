package reply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/inbound"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReplies_OutOfOffice(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeRenewal)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Your plan renews in 30 days")

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Automatic reply: I am out of office until next Monday", "I will be back on 10 March.", sent.MessageID),
	}

	sum, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 1, sum.ByLabel[domain.ClassOutOfOffice])

	got := f.enrollment(t, e.ID)
	assert.Equal(t, string(domain.EnrollmentStatusPaused), got.Status)
	assert.Equal(t, string(domain.PauseReasonOutOfOffice), got.PauseReason.String)

	tasks := f.store.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), tasks[0].DueDate)
	assert.Equal(t, domain.TaskSource, tasks[0].Source)
	assert.Equal(t, c.Company.ID, tasks[0].CompanyID)

	replies := f.store.Replies()
	require.Len(t, replies, 1)
	r := replies[0]
	assert.Equal(t, domain.ClassOutOfOffice.String(), r.Classification)
	assert.GreaterOrEqual(t, r.Confidence, 0.90)
	assert.Equal(t, domain.MethodRule.String(), r.Method)
	assert.False(t, r.NeedsHumanReview)
	assert.Equal(t, sent.ID, r.EmailLogID.UUID)
	assert.Equal(t, e.ID, r.EnrollmentID.UUID)
	assert.Equal(t, tasks[0].ID, r.TaskID.UUID)
	assert.Contains(t, r.ActionTaken, ActionPaused)

	_, classify := f.ai.Calls()
	assert.Zero(t, classify)
}

func TestCheckReplies_Bounce(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeRenewal)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Your plan renews in 30 days")

	f.source.msgs = []*inbound.Message{
		inboundReply("mailer-daemon@mx.example.com", "Delivery failed: user unknown", "", sent.MessageID),
	}

	_, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)

	got := f.enrollment(t, e.ID)
	assert.Equal(t, string(domain.EnrollmentStatusCancelled), got.Status)
	assert.Empty(t, f.store.Tasks())
	assert.Contains(t, f.logs.String(), "undeliverable")

	replies := f.store.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ClassBounce.String(), replies[0].Classification)
	assert.Equal(t, ActionCancelled, replies[0].ActionTaken)
	assert.False(t, replies[0].TaskID.Valid)
}

func TestCheckReplies_MeetingRequestPausesSiblings(t *testing.T) {
	f := newFixture(t)
	renewal := f.sequence(t, domain.SequenceTypeRenewal)
	prospect := f.sequence(t, domain.SequenceTypeProspect)

	c := f.store.SeedCustomer()
	other := f.store.SeedContact(c.Company.ID)
	opp := f.store.AddOpportunity(repository.Opportunity{
		CompanyID: c.Company.ID,
		Name:      "Music upgrade",
		Stage:     string(domain.StageContacted),
		Currency:  "EUR",
		CreatedAt: t0.Add(-48 * time.Hour),
	})

	a := f.enrolled(t, prospect, c.Contact)
	b := f.enrolled(t, renewal, other)
	sent := f.sendStep(t, a, c.Contact.Email, "Music for your shop")

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Re: Music for your shop", "Yes, let's meet next Tuesday", sent.MessageID),
	}

	_, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, string(domain.EnrollmentStatusReplied), f.enrollment(t, a.ID).Status)
	gotB := f.enrollment(t, b.ID)
	assert.Equal(t, string(domain.EnrollmentStatusPaused), gotB.Status)
	assert.Equal(t, string(domain.PauseReasonReplyReceived), gotB.PauseReason.String)

	tasks := f.store.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, opp.ID, tasks[0].OpportunityID.UUID)

	advanced, err := f.store.GetOpportunity(context.Background(), opp.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StageQuotationSent), advanced.Stage)

	replies := f.store.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ClassMeetingRequest.String(), replies[0].Classification)
	assert.Contains(t, replies[0].ActionTaken, ActionSiblingsPaused)
	assert.Contains(t, replies[0].ActionTaken, ActionStageAdvanced)
}

func TestCheckReplies_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeProspect)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Music for your shop")

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Re: Music for your shop", "Please remove me from your mailing list.", sent.MessageID),
	}

	_, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, string(domain.EnrollmentStatusCancelled), f.enrollment(t, e.ID).Status)
	contact, err := f.store.GetContact(context.Background(), c.Contact.ID)
	require.NoError(t, err)
	assert.False(t, contact.ReceivesNotifications)
	assert.Empty(t, f.store.Tasks())
}

func TestCheckReplies_DeduplicatesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeRenewal)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Your plan renews in 30 days")

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Automatic reply", "Away", sent.MessageID),
	}

	first, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stored)

	second, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Stored)
	assert.Equal(t, 1, second.Duplicates)

	assert.Len(t, f.store.Replies(), 1)
	assert.Len(t, f.store.Tasks(), 1)
}

func TestCheckReplies_UnmatchedIsStored(t *testing.T) {
	f := newFixture(t)
	c := f.store.SeedCustomer()
	f.ai.ClassifyResponse = &ai.ClassifyResult{Label: "question", Confidence: 0.93}

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Question about my invoice", "Can you resend it?", ""),
	}

	sum, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, 0, sum.Matched)

	replies := f.store.Replies()
	require.Len(t, replies, 1)
	r := replies[0]
	assert.Equal(t, ActionNone, r.ActionTaken)
	assert.False(t, r.EmailLogID.Valid)
	assert.False(t, r.EnrollmentID.Valid)
	assert.Equal(t, c.Contact.ID, r.ContactID.UUID)
	assert.Equal(t, domain.MethodAI.String(), r.Method)
	assert.Empty(t, f.store.Tasks())
}

func TestCheckReplies_AIUnavailableFlagsReview(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeProspect)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Music for your shop")
	f.ai.ClassifyError = ai.EAIUnavailable

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Re: Music for your shop", "What does it cost per location?", sent.MessageID),
	}

	_, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)

	replies := f.store.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ClassUnclassified.String(), replies[0].Classification)
	assert.Equal(t, domain.MethodNone.String(), replies[0].Method)
	assert.True(t, replies[0].NeedsHumanReview)
	assert.Equal(t, string(domain.EnrollmentStatusReplied), f.enrollment(t, e.ID).Status)
}

func TestCheckReplies_FailedStoreRollsBack(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeRenewal)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Your plan renews in 30 days")

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Automatic reply", "Away", sent.MessageID),
		inboundReply(c.Contact.Email, "Automatic reply", "Still away", ""),
	}
	f.store.FailOn("CreateReply", errors.New("disk full"))

	sum, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
	assert.Zero(t, sum.Stored)

	assert.Equal(t, string(domain.EnrollmentStatusActive), f.enrollment(t, e.ID).Status)
	assert.Empty(t, f.store.Tasks())
	assert.Empty(t, f.store.Replies())
}

func TestCheckReplies_LockFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeRenewal)
	c := f.store.SeedCustomer()
	e := f.enrolled(t, seq, c.Contact)
	sent := f.sendStep(t, e, c.Contact.Email, "Your plan renews in 30 days")

	f.source.msgs = []*inbound.Message{
		inboundReply(c.Contact.Email, "Automatic reply", "Away", sent.MessageID),
	}
	f.store.FailOn("GetEnrollmentForUpdate", errors.New("lock timeout"))

	sum, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, string(domain.EnrollmentStatusActive), f.enrollment(t, e.ID).Status)
	assert.Empty(t, f.store.Replies())
}

func TestDispatch_AppliesPolicyToCurrentStatus(t *testing.T) {
	f := newFixture(t)
	seq := f.sequence(t, domain.SequenceTypeRenewal)
	c := f.store.SeedCustomer()
	stale := f.enrolled(t, seq, c.Contact)
	require.NoError(t, f.enroll.Cancel(context.Background(), stale.ID))

	msg := inboundReply(c.Contact.Email, "Automatic reply: out of office", "Back on Monday", "")
	class := Classification{Label: domain.ClassOutOfOffice, Confidence: 0.95, Method: domain.MethodRule}

	var out Outcome
	err := f.store.ExecTx(context.Background(), func(q repository.Querier) error {
		var err error
		out, err = f.pipeline.dispatcher.Dispatch(context.Background(), q, msg, class, &stale)
		return err
	})
	require.NoError(t, err)
	assert.NotContains(t, out.Actions, ActionPaused)
	assert.Equal(t, string(domain.EnrollmentStatusCancelled), f.enrollment(t, stale.ID).Status)
}

func TestCheckReplies_SourceError(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("imap dial: connection refused")

	_, err := f.pipeline.CheckReplies(context.Background())
	require.Error(t, err)
}

func TestCheckReplies_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.pipeline.source = nil

	sum, err := f.pipeline.CheckReplies(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Fetched)
}
