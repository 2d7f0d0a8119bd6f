package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const aiDraftColumns = `id, step_execution_id, enrollment_id, subject, body, status,
    expires_at, approved_at, approved_by, created_at`

func scanAiDraft(row rowScanner) (AiDraft, error) {
	var i AiDraft
	err := row.Scan(
		&i.ID,
		&i.StepExecutionID,
		&i.EnrollmentID,
		&i.Subject,
		&i.Body,
		&i.Status,
		&i.ExpiresAt,
		&i.ApprovedAt,
		&i.ApprovedBy,
		&i.CreatedAt,
	)
	return i, err
}

const createAIDraft = `-- name: CreateAIDraft :one
INSERT INTO ai_drafts (
    step_execution_id, enrollment_id, subject, body, status, expires_at, created_at
) VALUES ($1, $2, $3, $4, 'pending_review', $5, $6)
RETURNING ` + aiDraftColumns

type CreateAIDraftParams struct {
	StepExecutionID uuid.UUID
	EnrollmentID    uuid.UUID
	Subject         string
	Body            string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

func (q *Queries) CreateAIDraft(ctx context.Context, arg CreateAIDraftParams) (AiDraft, error) {
	row := q.db.QueryRowContext(ctx, createAIDraft,
		arg.StepExecutionID,
		arg.EnrollmentID,
		arg.Subject,
		arg.Body,
		arg.ExpiresAt,
		arg.CreatedAt,
	)
	return scanAiDraft(row)
}

const getAIDraftForUpdate = `-- name: GetAIDraftForUpdate :one
SELECT ` + aiDraftColumns + `
FROM ai_drafts
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetAIDraftForUpdate(ctx context.Context, id uuid.UUID) (AiDraft, error) {
	return scanAiDraft(q.db.QueryRowContext(ctx, getAIDraftForUpdate, id))
}

const getAIDraftByExecution = `-- name: GetAIDraftByExecution :one
SELECT ` + aiDraftColumns + `
FROM ai_drafts
WHERE step_execution_id = $1
`

func (q *Queries) GetAIDraftByExecution(ctx context.Context, stepExecutionID uuid.UUID) (AiDraft, error) {
	return scanAiDraft(q.db.QueryRowContext(ctx, getAIDraftByExecution, stepExecutionID))
}

const listExpiredDraftIDs = `-- name: ListExpiredDraftIDs :many
SELECT id
FROM ai_drafts
WHERE status = 'pending_review' AND expires_at < $1
ORDER BY expires_at
`

func (q *Queries) ListExpiredDraftIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listExpiredDraftIDs, now)
	if err != nil {
		return nil, err
	}
	return scanUUIDs(rows)
}

const listApprovedUnsentDraftIDs = `-- name: ListApprovedUnsentDraftIDs :many
SELECT d.id
FROM ai_drafts d
JOIN step_executions se ON se.id = d.step_execution_id
WHERE d.status = 'approved' AND se.status = 'pending_approval'
ORDER BY d.approved_at
LIMIT $1
`

func (q *Queries) ListApprovedUnsentDraftIDs(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listApprovedUnsentDraftIDs, limit)
	if err != nil {
		return nil, err
	}
	return scanUUIDs(rows)
}

const updateAIDraftStatus = `-- name: UpdateAIDraftStatus :exec
UPDATE ai_drafts
SET status = $2, subject = $3, body = $4, approved_at = $5, approved_by = $6
WHERE id = $1
`

type UpdateAIDraftStatusParams struct {
	ID         uuid.UUID
	Status     string
	Subject    string
	Body       string
	ApprovedAt sql.NullTime
	ApprovedBy sql.NullString
}

func (q *Queries) UpdateAIDraftStatus(ctx context.Context, arg UpdateAIDraftStatusParams) error {
	_, err := q.db.ExecContext(ctx, updateAIDraftStatus,
		arg.ID,
		arg.Status,
		arg.Subject,
		arg.Body,
		arg.ApprovedAt,
		arg.ApprovedBy,
	)
	return err
}
