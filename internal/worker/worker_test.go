package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/repository/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "concurrency too low",
			config: Config{
				Concurrency:       0,
				PollInterval:      5 * time.Second,
				JobTimeout:        5 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
		{
			name: "concurrency too high",
			config: Config{
				Concurrency:       101,
				PollInterval:      5 * time.Second,
				JobTimeout:        5 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
		{
			name: "poll interval too short",
			config: Config{
				Concurrency:       2,
				PollInterval:      500 * time.Millisecond,
				JobTimeout:        5 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
		{
			name: "stale threshold below job timeout",
			config: Config{
				Concurrency:       2,
				PollInterval:      5 * time.Second,
				JobTimeout:        20 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "permanent error",
			err:  NewPermanentError(context.Canceled),
			want: true,
		},
		{
			name: "regular error",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Processing
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, store *memstore.Store, locker Locker) *Worker {
	t.Helper()
	w, err := New(store, locker, DefaultConfig(), testLogger())
	require.NoError(t, err)
	return w
}

func TestProcessNext(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name        string
		handle      func(context.Context, []byte) error
		register    bool
		wantErr     bool
		wantStatus  string
		wantMessage string
	}{
		{
			name:       "completes",
			handle:     func(context.Context, []byte) error { return nil },
			register:   true,
			wantStatus: "completed",
		},
		{
			name:        "transient failure is retried",
			handle:      func(context.Context, []byte) error { return errBoom },
			register:    true,
			wantErr:     true,
			wantStatus:  "pending",
			wantMessage: "boom",
		},
		{
			name:        "permanent failure is not retried",
			handle:      func(context.Context, []byte) error { return NewPermanentError(errBoom) },
			register:    true,
			wantErr:     true,
			wantStatus:  "failed",
			wantMessage: "boom",
		},
		{
			name:        "missing handler fails permanently",
			wantErr:     true,
			wantStatus:  "failed",
			wantMessage: "no handler registered for job type: process_email_cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memstore.New()
			w := newTestWorker(t, store, nil)
			if tt.register {
				w.Register(HandlerFunc{JobType: JobTypeEmailCycle, Fn: tt.handle})
			}

			_, err := EnqueueCycle(ctx, store, false, false)
			require.NoError(t, err)

			err = w.ProcessNext(ctx)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			jobs := store.Jobs()
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.wantStatus, jobs[0].Status)
			assert.Equal(t, int32(1), jobs[0].Attempts)
			assert.Equal(t, tt.wantMessage, jobs[0].ErrorMessage.String)
		})
	}
}

func TestProcessNext_PassesPayload(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	w := newTestWorker(t, store, nil)

	var got CyclePayload
	w.Register(HandlerFunc{JobType: JobTypeProspectCycle, Fn: func(_ context.Context, payload []byte) error {
		return json.Unmarshal(payload, &got)
	}})

	_, err := EnqueueCycle(ctx, store, true, true)
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))
	assert.True(t, got.Force)
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	w := newTestWorker(t, memstore.New(), nil)
	err := w.ProcessNext(context.Background())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestProcessNext_HigherPriorityFirst(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	w := newTestWorker(t, store, nil)

	var order []string
	for _, jt := range []string{JobTypeCheckReplies, JobTypeExpireDrafts} {
		w.Register(HandlerFunc{JobType: jt, Fn: func(context.Context, []byte) error {
			order = append(order, jt)
			return nil
		}})
	}

	_, err := EnqueueJob(ctx, store, JobTypeCheckReplies, struct{}{}, WithPriority(PriorityLow))
	require.NoError(t, err)
	_, err = EnqueueJob(ctx, store, JobTypeExpireDrafts, struct{}{}, WithPriority(PriorityHigh))
	require.NoError(t, err)

	require.NoError(t, w.ProcessNext(ctx))
	require.NoError(t, w.ProcessNext(ctx))
	assert.Equal(t, []string{JobTypeExpireDrafts, JobTypeCheckReplies}, order)
}

// heldLocker refuses every lock.
type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, ErrLocked
}

func TestProcessNext_SkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	w := newTestWorker(t, store, heldLocker{})

	var calls atomic.Int32
	w.Register(HandlerFunc{JobType: JobTypeEmailCycle, Fn: func(context.Context, []byte) error {
		calls.Add(1)
		return nil
	}})

	_, err := EnqueueCycle(ctx, store, false, false)
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))

	assert.Zero(t, calls.Load())
	assert.Equal(t, "completed", store.Jobs()[0].Status)
}

func TestPurgeFinished(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	w := newTestWorker(t, store, nil)
	w.Register(HandlerFunc{JobType: JobTypeEmailCycle, Fn: func(context.Context, []byte) error { return nil }})

	_, err := EnqueueCycle(ctx, store, false, false)
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))
	_, err = EnqueueCycle(ctx, store, true, false)
	require.NoError(t, err)

	n, err := w.PurgeFinished(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, store.Jobs(), 1)
	assert.Equal(t, JobTypeProspectCycle, store.Jobs()[0].JobType)
}

// =============================================================================
// Enqueue
// =============================================================================

func TestEnqueueJob_OneOpenPerType(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	first, err := EnqueueCycle(ctx, store, false, false)
	require.NoError(t, err)
	assert.Equal(t, int32(PriorityNormal), first.Priority)
	assert.Equal(t, int32(3), first.MaxAttempts)

	_, err = EnqueueCycle(ctx, store, false, true)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	// A different entry point is independent.
	_, err = EnqueueCycle(ctx, store, true, false)
	assert.NoError(t, err)

	job, err := EnqueueSeasonalDates(ctx, store, 2026, WithMaxAttempts(5), WithDelay(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(5), job.MaxAttempts)
	assert.True(t, job.ScheduledAt.After(time.Now().Add(59*time.Minute)))

	var payload SeasonalDatesPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, 2026, payload.Year)
}

// =============================================================================
// Locks and schedule
// =============================================================================

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	locker := NewRedisLockerFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testLogger())
	t.Cleanup(func() { _ = locker.Close() })
	require.NoError(t, locker.Ping(ctx))

	release, err := locker.Acquire(ctx, JobTypeEmailCycle, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("cadence:lock:"+JobTypeEmailCycle))

	_, err = locker.Acquire(ctx, JobTypeEmailCycle, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	// Other entry points are not blocked.
	releaseOther, err := locker.Acquire(ctx, JobTypeProspectCycle, time.Minute)
	require.NoError(t, err)
	releaseOther()

	release()
	assert.False(t, mr.Exists("cadence:lock:"+JobTypeEmailCycle))

	release, err = locker.Acquire(ctx, JobTypeEmailCycle, time.Minute)
	require.NoError(t, err)
	release()
}

func TestRedisLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	locker := NewRedisLockerFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testLogger())
	t.Cleanup(func() { _ = locker.Close() })

	staleRelease, err := locker.Acquire(ctx, JobTypeCheckReplies, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, JobTypeCheckReplies, time.Minute)
	require.NoError(t, err)

	staleRelease()
	assert.True(t, mr.Exists("cadence:lock:"+JobTypeCheckReplies))
	release()
}

func TestNewRedisLocker_BadURL(t *testing.T) {
	_, err := NewRedisLocker("not a url", testLogger())
	assert.Error(t, err)
}

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(memstore.New(), nil, testLogger())

	err := s.Add(
		Entry{Spec: "*/5 * * * *", JobType: JobTypeEmailCycle, Payload: CyclePayload{}},
		Entry{Spec: "", JobType: JobTypeProspectCycle},
	)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)

	err = s.Add(Entry{Spec: "every tuesday", JobType: JobTypeCheckReplies})
	assert.Error(t, err)
}

func TestScheduler_EnqueueSkipsOpenJob(t *testing.T) {
	store := memstore.New()
	s := NewScheduler(store, time.UTC, testLogger())
	e := Entry{Spec: "@hourly", JobType: JobTypeExpireDrafts, Payload: struct{}{}}

	s.enqueue(e)
	s.enqueue(e)

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobTypeExpireDrafts, jobs[0].JobType)
}
