package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	aimock "github.com/DukeRupert/cadence/internal/ai/mock"
	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/drafting"
	"github.com/DukeRupert/cadence/internal/email"
	mailmock "github.com/DukeRupert/cadence/internal/email/mock"
	"github.com/DukeRupert/cadence/internal/guard"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/repository/memstore"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/DukeRupert/cadence/internal/storage"
	"github.com/DukeRupert/cadence/internal/trigger"
	"github.com/DukeRupert/cadence/internal/unsubscribe"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Tuesday 4 March 2025, 10:00 UTC.
var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

type fixture struct {
	store     *memstore.Store
	clock     *clock.Fake
	transport *mailmock.Transport
	ai        *aimock.Provider
	docs      *storage.LocalStorage
	logs      *bytes.Buffer
	seqs      *service.SequenceService
	enroll    *service.EnrollmentService
	deps      Deps
	cfg       Config
	sched     *Scheduler
}

type fixtureOption func(*Config)

func withCap(n int) fixtureOption { return func(c *Config) { c.MaxPerCycle = n } }

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New()
	store.Now = clk.Now
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	transport := mailmock.NewTransport()
	provider := aimock.New(logger)
	enroll := service.NewEnrollmentService(store, clk, logger)
	docs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)
	signer, err := unsubscribe.NewSigner("test-secret-test-secret-test-secret", "https://cadence.example", clk.Now)
	require.NoError(t, err)

	cfg := Config{
		Hours:       guard.BusinessHours{Location: time.UTC, Start: 9, End: 17},
		MaxPerCycle: 100,
		DefaultFrom: "hello@cadence.example",
		DepartmentFrom: map[string]string{
			"finance": "billing@cadence.example",
		},
	}
	for _, o := range opts {
		o(&cfg)
	}

	f := &fixture{
		store:     store,
		clock:     clk,
		transport: transport,
		ai:        provider,
		docs:      docs,
		logs:      logs,
		seqs:      service.NewSequenceService(store, clk, logger),
		enroll:    enroll,
	}
	f.deps = Deps{
		Store:       store,
		Enrollments: enroll,
		Mailer:      email.NewMailer(transport, clk, logger),
		Drafts:      drafting.NewGenerator(provider, 24*time.Hour, logger),
		Documents:   docs,
		Unsubscribe: signer,
		Clock:       clk,
		Logger:      logger,
	}
	f.cfg = cfg
	f.sched = New(f.deps, cfg)
	return f
}

// withTriggers rebuilds the scheduler with a real trigger evaluator. Tests
// that enroll by hand run without one.
func (f *fixture) withTriggers() {
	f.deps.Triggers = trigger.NewEvaluator(f.store, f.enroll, f.clock, trigger.Config{Location: time.UTC}, f.deps.Logger)
	f.sched = New(f.deps, f.cfg)
}

// sequence creates and activates a sequence with the given steps.
func (f *fixture) sequence(t *testing.T, p service.CreateSequenceParams, steps ...service.AddStepParams) repository.Sequence {
	t.Helper()
	ctx := context.Background()
	if p.Name == "" {
		p.Name = "Test " + p.Type.String()
	}
	if p.Department == "" {
		p.Department = domain.DepartmentSales
	}
	if p.Type.IsProspect() && p.TriggerEvent == "" {
		p.TriggerEvent = domain.TriggerEventNewOpportunity
	}
	seq, err := f.seqs.Create(ctx, p)
	require.NoError(t, err)
	for _, st := range steps {
		st.SequenceID = seq.ID
		_, err := f.seqs.AddStep(ctx, st)
		require.NoError(t, err)
	}
	require.NoError(t, f.seqs.Activate(ctx, seq.ID))
	return seq
}

func templateStep(delay int, subject, body string) service.AddStepParams {
	return service.AddStepParams{
		DelayDays:       delay,
		Action:          domain.ActionSendTemplate,
		SubjectTemplate: subject,
		BodyTemplate:    body,
	}
}

// enrolled enrolls contact as an automatic enrollment keyed by key.
func (f *fixture) enrolled(t *testing.T, seq repository.Sequence, contact repository.Contact, key domain.TriggerKey, facts map[string]string) repository.Enrollment {
	t.Helper()
	var res service.EnrollResult
	err := f.store.ExecTx(context.Background(), func(q repository.Querier) error {
		var err error
		res, err = f.enroll.Enroll(context.Background(), q, service.EnrollParams{
			SequenceID: seq.ID,
			ContactID:  contact.ID,
			Source:     domain.EnrollmentSourceAutoTrigger,
			Trigger:    &key,
			Context:    facts,
		})
		return err
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Enrollment
}

// prospect seeds a company with an open opportunity and enrolls its contact
// in seq.
func (f *fixture) prospect(t *testing.T, seq repository.Sequence) (memstore.Customer, repository.Opportunity, repository.Enrollment) {
	t.Helper()
	c := f.store.SeedCustomer()
	opp := f.store.AddOpportunity(repository.Opportunity{
		CompanyID:      c.Company.ID,
		ContactID:      repository.NullUUID(c.Contact.ID),
		Name:           c.Company.Name + " background music",
		Stage:          string(domain.StageNew),
		OwnerID:        repository.NullUUID(uuid.New()),
		ValueCents:     120000,
		Currency:       "EUR",
		CreatedAt:      f.clock.Now(),
		LastActivityAt: f.clock.Now(),
	})
	e := f.enrolled(t, seq, c.Contact, domain.OpportunityKey(opp.ID), map[string]string{
		domain.ContextOpportunityID: opp.ID.String(),
	})
	return c, opp, e
}

func (f *fixture) run(t *testing.T, opts CycleOptions) *Summary {
	t.Helper()
	sum, err := f.sched.RunCycle(context.Background(), opts)
	require.NoError(t, err)
	return sum
}

func (f *fixture) enrollment(t *testing.T, id uuid.UUID) repository.Enrollment {
	t.Helper()
	e, err := f.store.GetEnrollment(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (f *fixture) executions(e repository.Enrollment) []repository.StepExecution {
	return f.store.Executions(e.ID)
}
