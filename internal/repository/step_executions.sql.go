package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const stepExecutionColumns = `id, enrollment_id, step_id, step_ordinal, status, scheduled_for,
    sent_at, email_log_id, task_id, ai_subject, ai_body, error_message,
    created_at, updated_at`

func scanStepExecution(row rowScanner) (StepExecution, error) {
	var i StepExecution
	err := row.Scan(
		&i.ID,
		&i.EnrollmentID,
		&i.StepID,
		&i.StepOrdinal,
		&i.Status,
		&i.ScheduledFor,
		&i.SentAt,
		&i.EmailLogID,
		&i.TaskID,
		&i.AiSubject,
		&i.AiBody,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createStepExecution = `-- name: CreateStepExecution :one
INSERT INTO step_executions (
    enrollment_id, step_id, step_ordinal, status, scheduled_for, created_at, updated_at
) VALUES ($1, $2, $3, 'scheduled', $4, $5, $5)
RETURNING ` + stepExecutionColumns

type CreateStepExecutionParams struct {
	EnrollmentID uuid.UUID
	StepID       uuid.UUID
	StepOrdinal  int32
	ScheduledFor time.Time
	CreatedAt    time.Time
}

func (q *Queries) CreateStepExecution(ctx context.Context, arg CreateStepExecutionParams) (StepExecution, error) {
	row := q.db.QueryRowContext(ctx, createStepExecution,
		arg.EnrollmentID,
		arg.StepID,
		arg.StepOrdinal,
		arg.ScheduledFor,
		arg.CreatedAt,
	)
	return scanStepExecution(row)
}

const getStepExecution = `-- name: GetStepExecution :one
SELECT ` + stepExecutionColumns + `
FROM step_executions
WHERE id = $1
`

func (q *Queries) GetStepExecution(ctx context.Context, id uuid.UUID) (StepExecution, error) {
	return scanStepExecution(q.db.QueryRowContext(ctx, getStepExecution, id))
}

const getExecutionByEmailLog = `-- name: GetExecutionByEmailLog :one
SELECT ` + stepExecutionColumns + `
FROM step_executions
WHERE email_log_id = $1
`

func (q *Queries) GetExecutionByEmailLog(ctx context.Context, emailLogID uuid.UUID) (StepExecution, error) {
	return scanStepExecution(q.db.QueryRowContext(ctx, getExecutionByEmailLog, emailLogID))
}

const getOpenExecutionForEnrollment = `-- name: GetOpenExecutionForEnrollment :one
SELECT ` + stepExecutionColumns + `
FROM step_executions
WHERE enrollment_id = $1 AND status IN ('scheduled', 'pending_approval')
`

func (q *Queries) GetOpenExecutionForEnrollment(ctx context.Context, enrollmentID uuid.UUID) (StepExecution, error) {
	return scanStepExecution(q.db.QueryRowContext(ctx, getOpenExecutionForEnrollment, enrollmentID))
}

const listDueExecutionIDs = `-- name: ListDueExecutionIDs :many
SELECT se.id
FROM step_executions se
JOIN enrollments e ON e.id = se.enrollment_id
JOIN sequences s ON s.id = e.sequence_id
WHERE se.status = 'scheduled'
  AND se.scheduled_for <= $1
  AND e.status = 'active'
  AND (s.sequence_type = 'prospect_cadence') = $2
ORDER BY se.scheduled_for ASC
LIMIT $3
`

type ListDueExecutionIDsParams struct {
	Now      time.Time
	Prospect bool
	Limit    int32
}

func (q *Queries) ListDueExecutionIDs(ctx context.Context, arg ListDueExecutionIDsParams) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listDueExecutionIDs, arg.Now, arg.Prospect, arg.Limit)
	if err != nil {
		return nil, err
	}
	return scanUUIDs(rows)
}

// The row lock is taken with SKIP LOCKED so a concurrent cycle that already
// holds the execution makes this return sql.ErrNoRows instead of blocking.
const lockScheduledExecution = `-- name: LockScheduledExecution :one
SELECT se.id, se.enrollment_id, se.step_id, se.step_ordinal, se.status, se.scheduled_for,
    se.sent_at, se.email_log_id, se.task_id, se.ai_subject, se.ai_body, se.error_message,
    se.created_at, se.updated_at
FROM step_executions se
JOIN enrollments e ON e.id = se.enrollment_id
WHERE se.id = $1 AND se.status = 'scheduled' AND e.status = 'active'
FOR UPDATE OF se, e SKIP LOCKED
`

func (q *Queries) LockScheduledExecution(ctx context.Context, id uuid.UUID) (StepExecution, error) {
	return scanStepExecution(q.db.QueryRowContext(ctx, lockScheduledExecution, id))
}

const lockPendingExecution = `-- name: LockPendingExecution :one
SELECT ` + stepExecutionColumns + `
FROM step_executions
WHERE id = $1 AND status = 'pending_approval'
FOR UPDATE SKIP LOCKED
`

func (q *Queries) LockPendingExecution(ctx context.Context, id uuid.UUID) (StepExecution, error) {
	return scanStepExecution(q.db.QueryRowContext(ctx, lockPendingExecution, id))
}

const markExecutionSent = `-- name: MarkExecutionSent :exec
UPDATE step_executions
SET status = 'sent', sent_at = $2, email_log_id = $3, task_id = $4, updated_at = $2
WHERE id = $1
`

type MarkExecutionSentParams struct {
	ID         uuid.UUID
	SentAt     time.Time
	EmailLogID uuid.NullUUID
	TaskID     uuid.NullUUID
}

func (q *Queries) MarkExecutionSent(ctx context.Context, arg MarkExecutionSentParams) error {
	_, err := q.db.ExecContext(ctx, markExecutionSent, arg.ID, arg.SentAt, arg.EmailLogID, arg.TaskID)
	return err
}

const markExecutionFailed = `-- name: MarkExecutionFailed :exec
UPDATE step_executions
SET status = 'failed', error_message = $2, email_log_id = COALESCE($3, email_log_id), updated_at = $4
WHERE id = $1
`

type MarkExecutionFailedParams struct {
	ID           uuid.UUID
	ErrorMessage string
	EmailLogID   uuid.NullUUID
	UpdatedAt    time.Time
}

func (q *Queries) MarkExecutionFailed(ctx context.Context, arg MarkExecutionFailedParams) error {
	_, err := q.db.ExecContext(ctx, markExecutionFailed, arg.ID, arg.ErrorMessage, arg.EmailLogID, arg.UpdatedAt)
	return err
}

const markExecutionPendingApproval = `-- name: MarkExecutionPendingApproval :exec
UPDATE step_executions
SET status = 'pending_approval', ai_subject = $2, ai_body = $3, updated_at = $4
WHERE id = $1
`

type MarkExecutionPendingApprovalParams struct {
	ID        uuid.UUID
	AiSubject string
	AiBody    string
	UpdatedAt time.Time
}

func (q *Queries) MarkExecutionPendingApproval(ctx context.Context, arg MarkExecutionPendingApprovalParams) error {
	_, err := q.db.ExecContext(ctx, markExecutionPendingApproval, arg.ID, arg.AiSubject, arg.AiBody, arg.UpdatedAt)
	return err
}

const markExecutionExpired = `-- name: MarkExecutionExpired :exec
UPDATE step_executions
SET status = 'expired', updated_at = $2
WHERE id = $1
`

type MarkExecutionExpiredParams struct {
	ID        uuid.UUID
	UpdatedAt time.Time
}

func (q *Queries) MarkExecutionExpired(ctx context.Context, arg MarkExecutionExpiredParams) error {
	_, err := q.db.ExecContext(ctx, markExecutionExpired, arg.ID, arg.UpdatedAt)
	return err
}
