package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/reply"
	"github.com/DukeRupert/cadence/internal/scheduler"
	"github.com/DukeRupert/cadence/internal/trigger"
	"github.com/DukeRupert/cadence/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	got []scheduler.CycleOptions
	sum *scheduler.Summary
	err error
}

func (f *fakeRunner) RunCycle(_ context.Context, opts scheduler.CycleOptions) (*scheduler.Summary, error) {
	f.got = append(f.got, opts)
	if f.sum == nil {
		f.sum = &scheduler.Summary{}
	}
	return f.sum, f.err
}

func TestCycleHandler(t *testing.T) {
	tests := []struct {
		name      string
		prospect  bool
		payload   string
		err       error
		wantType  string
		wantOpts  scheduler.CycleOptions
		wantErr   bool
		permanent bool
	}{
		{
			name:     "customer cycle",
			payload:  `{}`,
			wantType: worker.JobTypeEmailCycle,
			wantOpts: scheduler.CycleOptions{},
		},
		{
			name:     "forced prospect cycle",
			prospect: true,
			payload:  `{"force":true}`,
			wantType: worker.JobTypeProspectCycle,
			wantOpts: scheduler.CycleOptions{Prospect: true, Force: true},
		},
		{
			name:     "cycle error is retried",
			payload:  `{}`,
			err:      errors.New("db down"),
			wantType: worker.JobTypeEmailCycle,
			wantOpts: scheduler.CycleOptions{},
			wantErr:  true,
		},
		{
			name:      "invalid input is permanent",
			payload:   `{}`,
			err:       domain.Invalid("scheduler.run_cycle", "bad config"),
			wantType:  worker.JobTypeEmailCycle,
			wantOpts:  scheduler.CycleOptions{},
			wantErr:   true,
			permanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.err}
			h := NewEmailCycleHandler(runner, testLogger())
			if tt.prospect {
				h = NewProspectCycleHandler(runner, testLogger())
			}
			assert.Equal(t, tt.wantType, h.Type())

			err := h.Handle(context.Background(), []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.permanent, worker.IsPermanent(err))
			} else {
				require.NoError(t, err)
			}
			require.Len(t, runner.got, 1)
			assert.Equal(t, tt.wantOpts, runner.got[0])
		})
	}
}

func TestCycleHandler_BadPayload(t *testing.T) {
	runner := &fakeRunner{}
	err := NewEmailCycleHandler(runner, testLogger()).Handle(context.Background(), []byte(`{"force":`))
	assert.True(t, worker.IsPermanent(err))
	assert.Empty(t, runner.got)
}

func TestClassify_ContextErrorsStayRetryable(t *testing.T) {
	err := classify(domain.Internal(context.DeadlineExceeded, "op", "slow"))
	assert.False(t, worker.IsPermanent(err))
	assert.Nil(t, classify(nil))
}

type fakeChecker struct {
	sum *reply.Summary
	err error
}

func (f fakeChecker) CheckReplies(context.Context) (*reply.Summary, error) { return f.sum, f.err }

func TestCheckRepliesHandler(t *testing.T) {
	h := NewCheckRepliesHandler(fakeChecker{sum: &reply.Summary{Failed: 1}}, testLogger())
	assert.Equal(t, worker.JobTypeCheckReplies, h.Type())
	assert.NoError(t, h.Handle(context.Background(), nil))

	h = NewCheckRepliesHandler(fakeChecker{sum: &reply.Summary{}, err: errors.New("imap: connection reset")}, testLogger())
	err := h.Handle(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, worker.IsPermanent(err))
}

type fakeExpirer struct {
	n   int
	err error
}

func (f fakeExpirer) ExpireDrafts(context.Context) (int, error) { return f.n, f.err }

func TestExpireDraftsHandler(t *testing.T) {
	h := NewExpireDraftsHandler(fakeExpirer{n: 2}, testLogger())
	assert.Equal(t, worker.JobTypeExpireDrafts, h.Type())
	assert.NoError(t, h.Handle(context.Background(), []byte(`{}`)))

	h = NewExpireDraftsHandler(fakeExpirer{err: errors.New("lock timeout")}, testLogger())
	assert.Error(t, h.Handle(context.Background(), nil))
}

type fakeCalendar struct {
	years []int
	err   error
}

func (f *fakeCalendar) SetSeasonalDates(_ context.Context, year int) (int, error) {
	f.years = append(f.years, year)
	return 6, f.err
}

func TestSeasonalDatesHandler(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, time.November, 20, 9, 0, 0, 0, time.UTC))

	tests := []struct {
		name      string
		payload   string
		err       error
		wantYear  int
		permanent bool
		wantErr   bool
	}{
		{name: "defaults to coming year", payload: `{}`, wantYear: 2026},
		{name: "empty payload", payload: ``, wantYear: 2026},
		{name: "explicit year", payload: `{"year":2030}`, wantYear: 2030},
		{
			name:      "out of range year is permanent",
			payload:   `{"year":1900}`,
			err:       domain.Invalid("trigger.set_seasonal_dates", "year out of range"),
			wantYear:  1900,
			wantErr:   true,
			permanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalendar{err: tt.err}
			h := NewSeasonalDatesHandler(cal, clk, testLogger())
			assert.Equal(t, worker.JobTypeSeasonalDates, h.Type())

			err := h.Handle(context.Background(), []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.permanent, worker.IsPermanent(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, []int{tt.wantYear}, cal.years)
		})
	}
}

// The real collaborators satisfy the handler interfaces.
var (
	_ CycleRunner      = (*scheduler.Scheduler)(nil)
	_ ReplyChecker     = (*reply.Pipeline)(nil)
	_ DraftExpirer     = (*scheduler.Scheduler)(nil)
	_ SeasonalCalendar = (*trigger.Evaluator)(nil)
)
