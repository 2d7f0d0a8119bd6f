package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const createSequence = `-- name: CreateSequence :one
INSERT INTO sequences (
    name, description, sequence_type, status, department,
    from_email, trigger_offset_days, trigger_event, created_at, updated_at
) VALUES ($1, $2, $3, 'draft', $4, $5, $6, $7, $8, $8)
RETURNING id, name, description, sequence_type, status, department,
    from_email, trigger_offset_days, trigger_event, created_at, updated_at
`

type CreateSequenceParams struct {
	Name              string
	Description       string
	SequenceType      string
	Department        string
	FromEmail         sql.NullString
	TriggerOffsetDays int32
	TriggerEvent      sql.NullString
	CreatedAt         time.Time
}

func (q *Queries) CreateSequence(ctx context.Context, arg CreateSequenceParams) (Sequence, error) {
	row := q.db.QueryRowContext(ctx, createSequence,
		arg.Name,
		arg.Description,
		arg.SequenceType,
		arg.Department,
		arg.FromEmail,
		arg.TriggerOffsetDays,
		arg.TriggerEvent,
		arg.CreatedAt,
	)
	var i Sequence
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.SequenceType,
		&i.Status,
		&i.Department,
		&i.FromEmail,
		&i.TriggerOffsetDays,
		&i.TriggerEvent,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getSequence = `-- name: GetSequence :one
SELECT id, name, description, sequence_type, status, department,
    from_email, trigger_offset_days, trigger_event, created_at, updated_at
FROM sequences
WHERE id = $1
`

func (q *Queries) GetSequence(ctx context.Context, id uuid.UUID) (Sequence, error) {
	row := q.db.QueryRowContext(ctx, getSequence, id)
	var i Sequence
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.SequenceType,
		&i.Status,
		&i.Department,
		&i.FromEmail,
		&i.TriggerOffsetDays,
		&i.TriggerEvent,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listActiveSequencesByType = `-- name: ListActiveSequencesByType :many
SELECT id, name, description, sequence_type, status, department,
    from_email, trigger_offset_days, trigger_event, created_at, updated_at
FROM sequences
WHERE sequence_type = $1 AND status = 'active'
ORDER BY created_at
`

func (q *Queries) ListActiveSequencesByType(ctx context.Context, sequenceType string) ([]Sequence, error) {
	rows, err := q.db.QueryContext(ctx, listActiveSequencesByType, sequenceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Sequence
	for rows.Next() {
		var i Sequence
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Description,
			&i.SequenceType,
			&i.Status,
			&i.Department,
			&i.FromEmail,
			&i.TriggerOffsetDays,
			&i.TriggerEvent,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
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

const updateSequenceStatus = `-- name: UpdateSequenceStatus :exec
UPDATE sequences
SET status = $2, updated_at = $3
WHERE id = $1
`

type UpdateSequenceStatusParams struct {
	ID        uuid.UUID
	Status    string
	UpdatedAt time.Time
}

func (q *Queries) UpdateSequenceStatus(ctx context.Context, arg UpdateSequenceStatusParams) error {
	_, err := q.db.ExecContext(ctx, updateSequenceStatus, arg.ID, arg.Status, arg.UpdatedAt)
	return err
}

const createSequenceStep = `-- name: CreateSequenceStep :one
INSERT INTO sequence_steps (
    sequence_id, ordinal, delay_days, action_type, subject_template,
    body_template, translations, ai_prompt, task_title, target_stage,
    attach_document, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id, sequence_id, ordinal, delay_days, action_type, subject_template,
    body_template, translations, ai_prompt, task_title, target_stage,
    attach_document, created_at
`

type CreateSequenceStepParams struct {
	SequenceID      uuid.UUID
	Ordinal         int32
	DelayDays       int32
	ActionType      string
	SubjectTemplate string
	BodyTemplate    string
	Translations    pqtype.NullRawMessage
	AiPrompt        string
	TaskTitle       string
	TargetStage     sql.NullString
	AttachDocument  bool
	CreatedAt       time.Time
}

func (q *Queries) CreateSequenceStep(ctx context.Context, arg CreateSequenceStepParams) (SequenceStep, error) {
	row := q.db.QueryRowContext(ctx, createSequenceStep,
		arg.SequenceID,
		arg.Ordinal,
		arg.DelayDays,
		arg.ActionType,
		arg.SubjectTemplate,
		arg.BodyTemplate,
		arg.Translations,
		arg.AiPrompt,
		arg.TaskTitle,
		arg.TargetStage,
		arg.AttachDocument,
		arg.CreatedAt,
	)
	var i SequenceStep
	err := row.Scan(
		&i.ID,
		&i.SequenceID,
		&i.Ordinal,
		&i.DelayDays,
		&i.ActionType,
		&i.SubjectTemplate,
		&i.BodyTemplate,
		&i.Translations,
		&i.AiPrompt,
		&i.TaskTitle,
		&i.TargetStage,
		&i.AttachDocument,
		&i.CreatedAt,
	)
	return i, err
}

const getSequenceStep = `-- name: GetSequenceStep :one
SELECT id, sequence_id, ordinal, delay_days, action_type, subject_template,
    body_template, translations, ai_prompt, task_title, target_stage,
    attach_document, created_at
FROM sequence_steps
WHERE id = $1
`

func (q *Queries) GetSequenceStep(ctx context.Context, id uuid.UUID) (SequenceStep, error) {
	row := q.db.QueryRowContext(ctx, getSequenceStep, id)
	var i SequenceStep
	err := row.Scan(
		&i.ID,
		&i.SequenceID,
		&i.Ordinal,
		&i.DelayDays,
		&i.ActionType,
		&i.SubjectTemplate,
		&i.BodyTemplate,
		&i.Translations,
		&i.AiPrompt,
		&i.TaskTitle,
		&i.TargetStage,
		&i.AttachDocument,
		&i.CreatedAt,
	)
	return i, err
}

const getStepByOrdinal = `-- name: GetStepByOrdinal :one
SELECT id, sequence_id, ordinal, delay_days, action_type, subject_template,
    body_template, translations, ai_prompt, task_title, target_stage,
    attach_document, created_at
FROM sequence_steps
WHERE sequence_id = $1 AND ordinal = $2
`

type GetStepByOrdinalParams struct {
	SequenceID uuid.UUID
	Ordinal    int32
}

func (q *Queries) GetStepByOrdinal(ctx context.Context, arg GetStepByOrdinalParams) (SequenceStep, error) {
	row := q.db.QueryRowContext(ctx, getStepByOrdinal, arg.SequenceID, arg.Ordinal)
	var i SequenceStep
	err := row.Scan(
		&i.ID,
		&i.SequenceID,
		&i.Ordinal,
		&i.DelayDays,
		&i.ActionType,
		&i.SubjectTemplate,
		&i.BodyTemplate,
		&i.Translations,
		&i.AiPrompt,
		&i.TaskTitle,
		&i.TargetStage,
		&i.AttachDocument,
		&i.CreatedAt,
	)
	return i, err
}

const listSequenceSteps = `-- name: ListSequenceSteps :many
SELECT id, sequence_id, ordinal, delay_days, action_type, subject_template,
    body_template, translations, ai_prompt, task_title, target_stage,
    attach_document, created_at
FROM sequence_steps
WHERE sequence_id = $1
ORDER BY ordinal
`

func (q *Queries) ListSequenceSteps(ctx context.Context, sequenceID uuid.UUID) ([]SequenceStep, error) {
	rows, err := q.db.QueryContext(ctx, listSequenceSteps, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SequenceStep
	for rows.Next() {
		var i SequenceStep
		if err := rows.Scan(
			&i.ID,
			&i.SequenceID,
			&i.Ordinal,
			&i.DelayDays,
			&i.ActionType,
			&i.SubjectTemplate,
			&i.BodyTemplate,
			&i.Translations,
			&i.AiPrompt,
			&i.TaskTitle,
			&i.TargetStage,
			&i.AttachDocument,
			&i.CreatedAt,
		); err != nil {
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
