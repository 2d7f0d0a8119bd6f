package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const replyExists = `-- name: ReplyExists :one
SELECT EXISTS (SELECT 1 FROM replies WHERE imap_message_id = $1)
`

func (q *Queries) ReplyExists(ctx context.Context, imapMessageID string) (bool, error) {
	row := q.db.QueryRowContext(ctx, replyExists, imapMessageID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const createReply = `-- name: CreateReply :one
INSERT INTO replies (
    imap_message_id, in_reply_to, references_ids, from_email, subject, body,
    received_at, email_log_id, enrollment_id, company_id, contact_id,
    classification, confidence, method, needs_human_review, action_taken,
    task_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING id, imap_message_id, in_reply_to, references_ids, from_email, subject, body,
    received_at, email_log_id, enrollment_id, company_id, contact_id,
    classification, confidence, method, needs_human_review, action_taken,
    task_id, created_at
`

type CreateReplyParams struct {
	ImapMessageID    string
	InReplyTo        sql.NullString
	ReferencesIds    []string
	FromEmail        string
	Subject          string
	Body             string
	ReceivedAt       time.Time
	EmailLogID       uuid.NullUUID
	EnrollmentID     uuid.NullUUID
	CompanyID        uuid.NullUUID
	ContactID        uuid.NullUUID
	Classification   string
	Confidence       float64
	Method           string
	NeedsHumanReview bool
	ActionTaken      string
	TaskID           uuid.NullUUID
	CreatedAt        time.Time
}

func (q *Queries) CreateReply(ctx context.Context, arg CreateReplyParams) (Reply, error) {
	row := q.db.QueryRowContext(ctx, createReply,
		arg.ImapMessageID,
		arg.InReplyTo,
		pq.Array(arg.ReferencesIds),
		arg.FromEmail,
		arg.Subject,
		arg.Body,
		arg.ReceivedAt,
		arg.EmailLogID,
		arg.EnrollmentID,
		arg.CompanyID,
		arg.ContactID,
		arg.Classification,
		arg.Confidence,
		arg.Method,
		arg.NeedsHumanReview,
		arg.ActionTaken,
		arg.TaskID,
		arg.CreatedAt,
	)
	var i Reply
	err := row.Scan(
		&i.ID,
		&i.ImapMessageID,
		&i.InReplyTo,
		pq.Array(&i.ReferencesIds),
		&i.FromEmail,
		&i.Subject,
		&i.Body,
		&i.ReceivedAt,
		&i.EmailLogID,
		&i.EnrollmentID,
		&i.CompanyID,
		&i.ContactID,
		&i.Classification,
		&i.Confidence,
		&i.Method,
		&i.NeedsHumanReview,
		&i.ActionTaken,
		&i.TaskID,
		&i.CreatedAt,
	)
	return i, err
}
