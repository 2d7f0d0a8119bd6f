package reply

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/ai/mock"
	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/inbound"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/repository/memstore"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Tuesday 4 March 2025, 10:00 UTC.
var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	msgs []*inbound.Message
	err  error
}

func (s *fakeSource) Fetch(ctx context.Context, since time.Time) ([]*inbound.Message, error) {
	return s.msgs, s.err
}

type fixture struct {
	store    *memstore.Store
	clock    *clock.Fake
	ai       *mock.Provider
	logs     *bytes.Buffer
	seqs     *service.SequenceService
	enroll   *service.EnrollmentService
	source   *fakeSource
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New()
	store.Now = clk.Now
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	provider := mock.New(logger)
	enroll := service.NewEnrollmentService(store, clk, logger)
	source := &fakeSource{}

	return &fixture{
		store:  store,
		clock:  clk,
		ai:     provider,
		logs:   logs,
		seqs:   service.NewSequenceService(store, clk, logger),
		enroll: enroll,
		source: source,
		pipeline: NewPipeline(store, source,
			NewMatcher(clk, logger),
			NewClassifier(provider, logger),
			NewDispatcher(enroll, clk, time.UTC, logger),
			clk, DefaultLookback, logger),
	}
}

func (f *fixture) sequence(t *testing.T, typ domain.SequenceType) repository.Sequence {
	t.Helper()
	ctx := context.Background()
	p := service.CreateSequenceParams{Name: "Test " + typ.String(), Type: typ, Department: domain.DepartmentSales}
	if typ.IsProspect() {
		p.TriggerEvent = domain.TriggerEventNewOpportunity
	}
	seq, err := f.seqs.Create(ctx, p)
	require.NoError(t, err)
	for _, d := range []int{0, 3, 7} {
		_, err := f.seqs.AddStep(ctx, service.AddStepParams{
			SequenceID: seq.ID, DelayDays: d, Action: domain.ActionSendTemplate,
			SubjectTemplate: "Subject", BodyTemplate: "<p>Body</p>",
		})
		require.NoError(t, err)
	}
	require.NoError(t, f.seqs.Activate(ctx, seq.ID))
	return seq
}

func (f *fixture) enrolled(t *testing.T, seq repository.Sequence, contact repository.Contact) repository.Enrollment {
	t.Helper()
	var res service.EnrollResult
	err := f.store.ExecTx(context.Background(), func(q repository.Querier) error {
		var err error
		key := domain.TriggerKey{Type: domain.TriggerEntityOpportunity, ID: uuid.NewString()}
		res, err = f.enroll.Enroll(context.Background(), q, service.EnrollParams{
			SequenceID: seq.ID,
			ContactID:  contact.ID,
			Source:     domain.EnrollmentSourceAutoTrigger,
			Trigger:    &key,
		})
		return err
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Enrollment
}

// sendStep records the open step of e as sent and schedules the next one,
// the way the scheduler does.
func (f *fixture) sendStep(t *testing.T, e repository.Enrollment, to, subject string) repository.EmailLog {
	t.Helper()
	ctx := context.Background()
	var log repository.EmailLog
	err := f.store.ExecTx(ctx, func(q repository.Querier) error {
		ex, err := q.GetOpenExecutionForEnrollment(ctx, e.ID)
		if err != nil {
			return err
		}
		log, err = q.CreateEmailLog(ctx, repository.CreateEmailLogParams{
			ID:              uuid.New(),
			MessageID:       "<" + uuid.NewString() + "@cadence.example>",
			EmailType:       domain.EmailTypeSequence.String(),
			FromEmail:       "sales@cadence.example",
			ToEmail:         to,
			Subject:         subject,
			CompanyID:       repository.NullUUID(e.CompanyID),
			ContactID:       repository.NullUUID(e.ContactID),
			EnrollmentID:    repository.NullUUID(e.ID),
			StepExecutionID: repository.NullUUID(ex.ID),
			CreatedAt:       f.clock.Now(),
		})
		if err != nil {
			return err
		}
		if err := q.MarkEmailLogSent(ctx, repository.MarkEmailLogSentParams{ID: log.ID, SentAt: f.clock.Now()}); err != nil {
			return err
		}
		if err := q.MarkExecutionSent(ctx, repository.MarkExecutionSentParams{
			ID: ex.ID, SentAt: f.clock.Now(), EmailLogID: repository.NullUUID(log.ID),
		}); err != nil {
			return err
		}
		current, err := q.GetEnrollment(ctx, e.ID)
		if err != nil {
			return err
		}
		_, err = f.enroll.ScheduleNext(ctx, q, current, ex.StepOrdinal)
		return err
	})
	require.NoError(t, err)
	log, err = f.store.GetEmailLog(ctx, log.ID)
	require.NoError(t, err)
	return log
}

func (f *fixture) enrollment(t *testing.T, id uuid.UUID) repository.Enrollment {
	t.Helper()
	e, err := f.store.GetEnrollment(context.Background(), id)
	require.NoError(t, err)
	return e
}

func inboundReply(from, subject, body, inReplyTo string) *inbound.Message {
	return &inbound.Message{
		MessageID: "<" + uuid.NewString() + "@mail.example.com>",
		InReplyTo: inReplyTo,
		From:      from,
		Subject:   subject,
		Body:      body,
		Date:      t0,
	}
}
