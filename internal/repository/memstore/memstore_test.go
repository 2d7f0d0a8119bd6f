package memstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	company := s.AddCompany(repository.Company{Name: "Cafe Noord", Status: "active"})

	boom := errors.New("boom")
	err := s.ExecTx(ctx, func(q repository.Querier) error {
		if _, err := q.CreateTask(ctx, repository.CreateTaskParams{
			CompanyID: company.ID,
			Title:     "Call back",
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Tasks())
}

func TestExecTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := New()
	company := s.AddCompany(repository.Company{Name: "Cafe Noord", Status: "active"})

	err := s.ExecTx(ctx, func(q repository.Querier) error {
		_, err := q.CreateTask(ctx, repository.CreateTaskParams{CompanyID: company.ID, Title: "Call back"})
		return err
	})

	require.NoError(t, err)
	assert.Len(t, s.Tasks(), 1)
}

func TestCreateEnrollment_TriggerKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	params := repository.CreateEnrollmentParams{
		SequenceID:        uuid.New(),
		CompanyID:         uuid.New(),
		ContactID:         uuid.New(),
		Source:            "auto_trigger",
		TriggerEntityType: sql.NullString{String: "contract", Valid: true},
		TriggerEntityID:   sql.NullString{String: "c-1", Valid: true},
		EnrolledAt:        time.Now(),
	}

	_, err := s.CreateEnrollment(ctx, params)
	require.NoError(t, err)

	_, err = s.CreateEnrollment(ctx, params)
	assert.True(t, repository.IsUniqueViolation(err))

	params.TriggerEntityType = sql.NullString{}
	params.TriggerEntityID = sql.NullString{}
	_, err = s.CreateEnrollment(ctx, params)
	require.NoError(t, err)
	_, err = s.CreateEnrollment(ctx, params)
	require.NoError(t, err, "manual enrollments have no trigger key")
}

func TestCreateStepExecution_OneOpenPerEnrollment(t *testing.T) {
	ctx := context.Background()
	s := New()
	enrollmentID := uuid.New()

	first, err := s.CreateStepExecution(ctx, repository.CreateStepExecutionParams{
		EnrollmentID: enrollmentID, StepID: uuid.New(), StepOrdinal: 1,
	})
	require.NoError(t, err)

	_, err = s.CreateStepExecution(ctx, repository.CreateStepExecutionParams{
		EnrollmentID: enrollmentID, StepID: uuid.New(), StepOrdinal: 2,
	})
	assert.True(t, repository.IsUniqueViolation(err))

	require.NoError(t, s.MarkExecutionSent(ctx, repository.MarkExecutionSentParams{ID: first.ID, SentAt: time.Now()}))
	_, err = s.CreateStepExecution(ctx, repository.CreateStepExecutionParams{
		EnrollmentID: enrollmentID, StepID: uuid.New(), StepOrdinal: 2,
	})
	assert.NoError(t, err)
}

func TestUpdateJobFailed_BacksOffThenFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	s := New()
	s.Now = func() time.Time { return now }

	job, err := s.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType: "process_email_cycle", MaxAttempts: 2, ScheduledAt: now,
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateJobStarted(ctx, job.ID))
	require.NoError(t, s.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{ID: job.ID}))
	got := s.Jobs()[0]
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, now.Add(30*time.Second), got.ScheduledAt)

	_, err = s.DequeueJob(ctx)
	assert.ErrorIs(t, err, sql.ErrNoRows, "backoff has not elapsed")

	require.NoError(t, s.UpdateJobStarted(ctx, job.ID))
	require.NoError(t, s.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{ID: job.ID}))
	assert.Equal(t, "failed", s.Jobs()[0].Status)
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("db down")

	s.FailOn("GetCompany", boom)
	_, err := s.GetCompany(ctx, uuid.New())
	assert.ErrorIs(t, err, boom)

	s.FailOn("GetCompany", nil)
	_, err = s.GetCompany(ctx, uuid.New())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
