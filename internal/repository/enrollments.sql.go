package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const enrollmentColumns = `id, sequence_id, company_id, contact_id, status, source,
    trigger_entity_type, trigger_entity_id, trigger_context, current_step,
    pause_reason, enrolled_at, paused_at, completed_at, cancelled_at, updated_at`

func scanEnrollment(row rowScanner) (Enrollment, error) {
	var i Enrollment
	err := row.Scan(
		&i.ID,
		&i.SequenceID,
		&i.CompanyID,
		&i.ContactID,
		&i.Status,
		&i.Source,
		&i.TriggerEntityType,
		&i.TriggerEntityID,
		&i.TriggerContext,
		&i.CurrentStep,
		&i.PauseReason,
		&i.EnrolledAt,
		&i.PausedAt,
		&i.CompletedAt,
		&i.CancelledAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanEnrollments(rows *sql.Rows) ([]Enrollment, error) {
	defer rows.Close()
	var items []Enrollment
	for rows.Next() {
		i, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createEnrollment = `-- name: CreateEnrollment :one
INSERT INTO enrollments (
    sequence_id, company_id, contact_id, status, source,
    trigger_entity_type, trigger_entity_id, trigger_context,
    current_step, enrolled_at, updated_at
) VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, 0, $8, $8)
RETURNING ` + enrollmentColumns

type CreateEnrollmentParams struct {
	SequenceID        uuid.UUID
	CompanyID         uuid.UUID
	ContactID         uuid.UUID
	Source            string
	TriggerEntityType sql.NullString
	TriggerEntityID   sql.NullString
	TriggerContext    pqtype.NullRawMessage
	EnrolledAt        time.Time
}

func (q *Queries) CreateEnrollment(ctx context.Context, arg CreateEnrollmentParams) (Enrollment, error) {
	row := q.db.QueryRowContext(ctx, createEnrollment,
		arg.SequenceID,
		arg.CompanyID,
		arg.ContactID,
		arg.Source,
		arg.TriggerEntityType,
		arg.TriggerEntityID,
		arg.TriggerContext,
		arg.EnrolledAt,
	)
	return scanEnrollment(row)
}

const getEnrollment = `-- name: GetEnrollment :one
SELECT ` + enrollmentColumns + `
FROM enrollments
WHERE id = $1
`

func (q *Queries) GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error) {
	return scanEnrollment(q.db.QueryRowContext(ctx, getEnrollment, id))
}

const getEnrollmentForUpdate = `-- name: GetEnrollmentForUpdate :one
SELECT ` + enrollmentColumns + `
FROM enrollments
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetEnrollmentForUpdate(ctx context.Context, id uuid.UUID) (Enrollment, error) {
	return scanEnrollment(q.db.QueryRowContext(ctx, getEnrollmentForUpdate, id))
}

const getEnrollmentByTrigger = `-- name: GetEnrollmentByTrigger :one
SELECT ` + enrollmentColumns + `
FROM enrollments
WHERE sequence_id = $1 AND trigger_entity_type = $2 AND trigger_entity_id = $3
`

type GetEnrollmentByTriggerParams struct {
	SequenceID        uuid.UUID
	TriggerEntityType string
	TriggerEntityID   string
}

func (q *Queries) GetEnrollmentByTrigger(ctx context.Context, arg GetEnrollmentByTriggerParams) (Enrollment, error) {
	row := q.db.QueryRowContext(ctx, getEnrollmentByTrigger, arg.SequenceID, arg.TriggerEntityType, arg.TriggerEntityID)
	return scanEnrollment(row)
}

const listActiveEnrollmentsByCompany = `-- name: ListActiveEnrollmentsByCompany :many
SELECT ` + enrollmentColumns + `
FROM enrollments
WHERE company_id = $1 AND status = 'active'
ORDER BY enrolled_at
FOR UPDATE
`

func (q *Queries) ListActiveEnrollmentsByCompany(ctx context.Context, companyID uuid.UUID) ([]Enrollment, error) {
	rows, err := q.db.QueryContext(ctx, listActiveEnrollmentsByCompany, companyID)
	if err != nil {
		return nil, err
	}
	return scanEnrollments(rows)
}

const listEnrollmentsByContact = `-- name: ListEnrollmentsByContact :many
SELECT ` + enrollmentColumns + `
FROM enrollments
WHERE contact_id = $1
ORDER BY enrolled_at DESC
FOR UPDATE
`

func (q *Queries) ListEnrollmentsByContact(ctx context.Context, contactID uuid.UUID) ([]Enrollment, error) {
	rows, err := q.db.QueryContext(ctx, listEnrollmentsByContact, contactID)
	if err != nil {
		return nil, err
	}
	return scanEnrollments(rows)
}

const updateEnrollmentStatus = `-- name: UpdateEnrollmentStatus :one
UPDATE enrollments
SET status = $2,
    pause_reason = $3,
    paused_at = COALESCE($4, paused_at),
    completed_at = COALESCE($5, completed_at),
    cancelled_at = COALESCE($6, cancelled_at),
    updated_at = $7
WHERE id = $1
RETURNING ` + enrollmentColumns

type UpdateEnrollmentStatusParams struct {
	ID          uuid.UUID
	Status      string
	PauseReason sql.NullString
	PausedAt    sql.NullTime
	CompletedAt sql.NullTime
	CancelledAt sql.NullTime
	UpdatedAt   time.Time
}

func (q *Queries) UpdateEnrollmentStatus(ctx context.Context, arg UpdateEnrollmentStatusParams) (Enrollment, error) {
	row := q.db.QueryRowContext(ctx, updateEnrollmentStatus,
		arg.ID,
		arg.Status,
		arg.PauseReason,
		arg.PausedAt,
		arg.CompletedAt,
		arg.CancelledAt,
		arg.UpdatedAt,
	)
	return scanEnrollment(row)
}

const updateEnrollmentStep = `-- name: UpdateEnrollmentStep :exec
UPDATE enrollments
SET current_step = $2, updated_at = $3
WHERE id = $1
`

type UpdateEnrollmentStepParams struct {
	ID          uuid.UUID
	CurrentStep int32
	UpdatedAt   time.Time
}

func (q *Queries) UpdateEnrollmentStep(ctx context.Context, arg UpdateEnrollmentStepParams) error {
	_, err := q.db.ExecContext(ctx, updateEnrollmentStep, arg.ID, arg.CurrentStep, arg.UpdatedAt)
	return err
}
