package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/badoux/checkmail"
	"github.com/google/uuid"
)

// ErrInvalidRecipient is recorded when the recipient address fails the
// syntax check. Retrying such a send cannot succeed.
var ErrInvalidRecipient = errors.New("invalid recipient address")

// LogWriter is the part of the repository the Mailer writes delivery logs
// through. Callers pass a transaction-scoped Querier so the log row commits
// with the rest of their state change.
type LogWriter interface {
	CreateEmailLog(ctx context.Context, arg repository.CreateEmailLogParams) (repository.EmailLog, error)
	MarkEmailLogSent(ctx context.Context, arg repository.MarkEmailLogSentParams) error
	MarkEmailLogFailed(ctx context.Context, arg repository.MarkEmailLogFailedParams) error
}

// Correlation links an outbound email to the records it was sent for.
type Correlation struct {
	CompanyID       uuid.NullUUID
	ContactID       uuid.NullUUID
	ContractID      uuid.NullUUID
	InvoiceID       uuid.NullUUID
	EnrollmentID    uuid.NullUUID
	StepExecutionID uuid.NullUUID
	TemplateID      uuid.NullUUID
}

// Request is one email to send.
type Request struct {
	Type           domain.EmailType
	To             string
	From           string
	FromName       string
	Cc             []string
	ReplyTo        string
	Subject        string
	HTMLBody       string
	TextBody       string // derived from HTMLBody when empty
	Attachments    []Attachment
	UnsubscribeURL string
	Correlation    Correlation
}

// Result reports the outcome of one send attempt.
type Result struct {
	LogID     uuid.UUID
	MessageID string
	Sent      bool
	Error     string
	Permanent bool // the failure will repeat on retry
}

// Mailer sends email and records every attempt in the delivery log.
type Mailer struct {
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger
}

// NewMailer creates a Mailer.
func NewMailer(transport Transport, clk clock.Clock, logger *slog.Logger) *Mailer {
	return &Mailer{
		transport: transport,
		clock:     clk,
		logger:    logger,
	}
}

// Send writes a pending EmailLog, submits the message and marks the log
// sent or failed. A delivery failure is reported in Result, not as an
// error; the returned error is only set when the log itself could not be
// written.
func (m *Mailer) Send(ctx context.Context, log LogWriter, req Request) (Result, error) {
	const op = "Mailer.Send"

	if req.Type == "" {
		req.Type = domain.EmailTypeSequence
	}
	if req.TextBody == "" {
		req.TextBody = render.HTMLToText(req.HTMLBody)
	}

	now := m.clock.Now()
	logID := uuid.New()
	messageID := NewMessageID(req.From)

	entry, err := log.CreateEmailLog(ctx, repository.CreateEmailLogParams{
		ID:              logID,
		MessageID:       messageID,
		EmailType:       req.Type.String(),
		FromEmail:       req.From,
		ToEmail:         req.To,
		Subject:         req.Subject,
		BodyText:        req.TextBody,
		CompanyID:       req.Correlation.CompanyID,
		ContactID:       req.Correlation.ContactID,
		ContractID:      req.Correlation.ContractID,
		InvoiceID:       req.Correlation.InvoiceID,
		EnrollmentID:    req.Correlation.EnrollmentID,
		StepExecutionID: req.Correlation.StepExecutionID,
		TemplateID:      req.Correlation.TemplateID,
		CreatedAt:       now,
	})
	if err != nil {
		return Result{}, domain.Internal(err, op, "create email log")
	}

	result := Result{LogID: entry.ID, MessageID: messageID}
	logger := m.logger.With("email_log_id", entry.ID, "to", req.To)

	if sendErr := m.submit(ctx, req, entry.ID, messageID, now); sendErr != nil {
		result.Error = sendErr.Error()
		result.Permanent = errors.Is(sendErr, ErrInvalidRecipient)
		if err := log.MarkEmailLogFailed(ctx, repository.MarkEmailLogFailedParams{
			ID:           entry.ID,
			ErrorMessage: result.Error,
		}); err != nil {
			return result, domain.Internal(err, op, "mark email log failed")
		}
		logger.Warn("Email send failed", "error", sendErr, "permanent", result.Permanent)
		return result, nil
	}

	if err := log.MarkEmailLogSent(ctx, repository.MarkEmailLogSentParams{
		ID:     entry.ID,
		SentAt: m.clock.Now(),
	}); err != nil {
		return result, domain.Internal(err, op, "mark email log sent")
	}
	result.Sent = true
	logger.Info("Email sent", "message_id", messageID, "subject", req.Subject)
	return result, nil
}

func (m *Mailer) submit(ctx context.Context, req Request, logID uuid.UUID, messageID string, now time.Time) error {
	if err := checkmail.ValidateFormat(req.To); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, req.To)
	}

	headers := map[string]string{
		HeaderCorrelationID: logID.String(),
	}
	if req.UnsubscribeURL != "" {
		headers[HeaderListUnsubscribe] = "<" + req.UnsubscribeURL + ">"
		headers[HeaderListUnsubscribePost] = "List-Unsubscribe=One-Click"
	}

	return m.transport.Send(ctx, &Message{
		MessageID:   messageID,
		Date:        now,
		From:        req.From,
		FromName:    req.FromName,
		To:          req.To,
		Cc:          req.Cc,
		ReplyTo:     req.ReplyTo,
		Subject:     req.Subject,
		HTMLBody:    req.HTMLBody,
		TextBody:    req.TextBody,
		Headers:     headers,
		Attachments: req.Attachments,
	})
}

// NewMessageID returns a fresh RFC 5322 msg-id whose right-hand side is the
// sender's domain.
func NewMessageID(from string) string {
	domainPart := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domainPart = strings.Trim(from[at+1:], "<> ")
	}
	return "<" + uuid.NewString() + "@" + domainPart + ">"
}
