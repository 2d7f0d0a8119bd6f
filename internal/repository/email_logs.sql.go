package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const emailLogColumns = `id, message_id, email_type, status, from_email, to_email, subject,
    body_text, company_id, contact_id, contract_id, invoice_id, enrollment_id,
    step_execution_id, template_id, error_message, created_at, sent_at`

func scanEmailLog(row rowScanner) (EmailLog, error) {
	var i EmailLog
	err := row.Scan(
		&i.ID,
		&i.MessageID,
		&i.EmailType,
		&i.Status,
		&i.FromEmail,
		&i.ToEmail,
		&i.Subject,
		&i.BodyText,
		&i.CompanyID,
		&i.ContactID,
		&i.ContractID,
		&i.InvoiceID,
		&i.EnrollmentID,
		&i.StepExecutionID,
		&i.TemplateID,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const createEmailLog = `-- name: CreateEmailLog :one
INSERT INTO email_logs (
    id, message_id, email_type, status, from_email, to_email, subject, body_text,
    company_id, contact_id, contract_id, invoice_id, enrollment_id,
    step_execution_id, template_id, created_at
) VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + emailLogColumns

type CreateEmailLogParams struct {
	ID              uuid.UUID
	MessageID       string
	EmailType       string
	FromEmail       string
	ToEmail         string
	Subject         string
	BodyText        string
	CompanyID       uuid.NullUUID
	ContactID       uuid.NullUUID
	ContractID      uuid.NullUUID
	InvoiceID       uuid.NullUUID
	EnrollmentID    uuid.NullUUID
	StepExecutionID uuid.NullUUID
	TemplateID      uuid.NullUUID
	CreatedAt       time.Time
}

func (q *Queries) CreateEmailLog(ctx context.Context, arg CreateEmailLogParams) (EmailLog, error) {
	row := q.db.QueryRowContext(ctx, createEmailLog,
		arg.ID,
		arg.MessageID,
		arg.EmailType,
		arg.FromEmail,
		arg.ToEmail,
		arg.Subject,
		arg.BodyText,
		arg.CompanyID,
		arg.ContactID,
		arg.ContractID,
		arg.InvoiceID,
		arg.EnrollmentID,
		arg.StepExecutionID,
		arg.TemplateID,
		arg.CreatedAt,
	)
	return scanEmailLog(row)
}

const markEmailLogSent = `-- name: MarkEmailLogSent :exec
UPDATE email_logs
SET status = 'sent', sent_at = $2
WHERE id = $1 AND status = 'pending'
`

type MarkEmailLogSentParams struct {
	ID     uuid.UUID
	SentAt time.Time
}

func (q *Queries) MarkEmailLogSent(ctx context.Context, arg MarkEmailLogSentParams) error {
	_, err := q.db.ExecContext(ctx, markEmailLogSent, arg.ID, arg.SentAt)
	return err
}

const markEmailLogFailed = `-- name: MarkEmailLogFailed :exec
UPDATE email_logs
SET status = 'failed', error_message = $2
WHERE id = $1 AND status = 'pending'
`

type MarkEmailLogFailedParams struct {
	ID           uuid.UUID
	ErrorMessage string
}

func (q *Queries) MarkEmailLogFailed(ctx context.Context, arg MarkEmailLogFailedParams) error {
	_, err := q.db.ExecContext(ctx, markEmailLogFailed, arg.ID, arg.ErrorMessage)
	return err
}

const getEmailLog = `-- name: GetEmailLog :one
SELECT ` + emailLogColumns + `
FROM email_logs
WHERE id = $1
`

func (q *Queries) GetEmailLog(ctx context.Context, id uuid.UUID) (EmailLog, error) {
	return scanEmailLog(q.db.QueryRowContext(ctx, getEmailLog, id))
}

const getSequenceEmailByMessageID = `-- name: GetSequenceEmailByMessageID :one
SELECT ` + emailLogColumns + `
FROM email_logs
WHERE message_id = $1 AND email_type = 'sequence'
`

func (q *Queries) GetSequenceEmailByMessageID(ctx context.Context, messageID string) (EmailLog, error) {
	return scanEmailLog(q.db.QueryRowContext(ctx, getSequenceEmailByMessageID, messageID))
}

const listRecentSequenceEmailsTo = `-- name: ListRecentSequenceEmailsTo :many
SELECT ` + emailLogColumns + `
FROM email_logs
WHERE lower(to_email) = lower($1)
  AND email_type = 'sequence'
  AND status = 'sent'
  AND sent_at >= $2
ORDER BY sent_at DESC
`

type ListRecentSequenceEmailsToParams struct {
	ToEmail string
	Since   time.Time
}

func (q *Queries) ListRecentSequenceEmailsTo(ctx context.Context, arg ListRecentSequenceEmailsToParams) ([]EmailLog, error) {
	rows, err := q.db.QueryContext(ctx, listRecentSequenceEmailsTo, arg.ToEmail, arg.Since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []EmailLog
	for rows.Next() {
		i, err := scanEmailLog(rows)
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
