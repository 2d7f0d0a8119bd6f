// Package email sends outbound mail and keeps the delivery log.
//
// A Mailer owns the log: it writes a pending EmailLog row, hands the built
// message to a Transport, and moves the row to sent or failed. The SMTP
// Transport is backed by gomail; tests use email/mock.
package email

import (
	"context"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Transport submits one fully built message. Implementations must honour
// ctx cancellation and apply their own connection timeout.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Message is the wire-level email handed to a Transport.
type Message struct {
	MessageID   string // RFC 5322 msg-id including angle brackets
	Date        time.Time
	From        string
	FromName    string
	To          string
	Cc          []string
	ReplyTo     string
	Subject     string
	HTMLBody    string
	TextBody    string
	Headers     map[string]string
	Attachments []Attachment
}

// Attachment is a file attached to a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// =============================================================================
// Header names
// =============================================================================

const (
	HeaderCorrelationID       = "X-Correlation-Id"
	HeaderListUnsubscribe     = "List-Unsubscribe"
	HeaderListUnsubscribePost = "List-Unsubscribe-Post"
)
