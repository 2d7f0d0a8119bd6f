package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/repository/memstore"
	"github.com/stretchr/testify/require"
)

// Tuesday morning in business hours.
var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type harness struct {
	store  *memstore.Store
	clock  *clock.Fake
	seqs   *SequenceService
	enroll *EnrollmentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New()
	store.Now = clk.Now
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		store:  store,
		clock:  clk,
		seqs:   NewSequenceService(store, clk, logger),
		enroll: NewEnrollmentService(store, clk, logger),
	}
}

// activeSequence creates and activates a sequence of send_template steps
// with the given delays.
func (h *harness) activeSequence(t *testing.T, typ domain.SequenceType, delays ...int) repository.Sequence {
	t.Helper()
	ctx := context.Background()
	p := CreateSequenceParams{Name: "Test " + typ.String(), Type: typ, Department: domain.DepartmentSales}
	if typ.IsProspect() {
		p.TriggerEvent = domain.TriggerEventNewOpportunity
	}
	seq, err := h.seqs.Create(ctx, p)
	require.NoError(t, err)
	for _, d := range delays {
		_, err := h.seqs.AddStep(ctx, AddStepParams{
			SequenceID:      seq.ID,
			DelayDays:       d,
			Action:          domain.ActionSendTemplate,
			SubjectTemplate: "Hello {{first_name}}",
			BodyTemplate:    "<p>Hi {{first_name}}</p>",
		})
		require.NoError(t, err)
	}
	require.NoError(t, h.seqs.Activate(ctx, seq.ID))
	seq, err = h.store.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	return seq
}

func (h *harness) autoEnroll(t *testing.T, seq repository.Sequence, contact repository.Contact, key domain.TriggerKey) EnrollResult {
	t.Helper()
	var res EnrollResult
	err := h.store.ExecTx(context.Background(), func(q repository.Querier) error {
		var err error
		res, err = h.enroll.Enroll(context.Background(), q, EnrollParams{
			SequenceID: seq.ID,
			ContactID:  contact.ID,
			Source:     domain.EnrollmentSourceAutoTrigger,
			Trigger:    &key,
		})
		return err
	})
	require.NoError(t, err)
	return res
}
