package email_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/email"
	"github.com/DukeRupert/cadence/internal/email/mock"
	"github.com/DukeRupert/cadence/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMailer(t *testing.T) (*email.Mailer, *mock.Transport, *memstore.Store) {
	t.Helper()
	transport := mock.NewTransport()
	clk := clock.NewFake(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return email.NewMailer(transport, clk, logger), transport, memstore.New()
}

func TestMailer_Send_Success(t *testing.T) {
	mailer, transport, store := newMailer(t)
	enrollmentID := uuid.New()

	res, err := mailer.Send(context.Background(), store, email.Request{
		To:             "ana@cafe-noord.nl",
		From:           "sales@cadence.example",
		FromName:       "Cadence Sales",
		Subject:        "Your plan renews in 30 days",
		HTMLBody:       "<p>Hi Ana,</p><p>Your plan renews soon.</p>",
		UnsubscribeURL: "https://crm.example/unsubscribe?token=abc",
		Correlation:    email.Correlation{EnrollmentID: uuid.NullUUID{UUID: enrollmentID, Valid: true}},
	})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.True(t, strings.HasSuffix(res.MessageID, "@cadence.example>"))

	sent := transport.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, res.MessageID, msg.MessageID)
	assert.Equal(t, res.LogID.String(), msg.Headers[email.HeaderCorrelationID])
	assert.Equal(t, "<https://crm.example/unsubscribe?token=abc>", msg.Headers[email.HeaderListUnsubscribe])
	assert.Equal(t, "List-Unsubscribe=One-Click", msg.Headers[email.HeaderListUnsubscribePost])
	assert.Equal(t, "Hi Ana,\nYour plan renews soon.", msg.TextBody)

	logs := store.EmailLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "sent", logs[0].Status)
	assert.True(t, logs[0].SentAt.Valid)
	assert.Equal(t, "sequence", logs[0].EmailType)
	assert.Equal(t, enrollmentID, logs[0].EnrollmentID.UUID)
}

func TestMailer_Send_TransportFailureIsLogged(t *testing.T) {
	mailer, transport, store := newMailer(t)
	transport.FailWith(errors.New("421 try again later"))

	res, err := mailer.Send(context.Background(), store, email.Request{
		To:       "ana@cafe-noord.nl",
		From:     "sales@cadence.example",
		Subject:  "Hello",
		HTMLBody: "<p>Hello</p>",
	})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.False(t, res.Permanent)
	assert.Contains(t, res.Error, "421")

	logs := store.EmailLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage.String, "421")
}

func TestMailer_Send_InvalidRecipientIsPermanent(t *testing.T) {
	mailer, transport, store := newMailer(t)

	res, err := mailer.Send(context.Background(), store, email.Request{
		To:       "not-an-address",
		From:     "sales@cadence.example",
		Subject:  "Hello",
		HTMLBody: "<p>Hello</p>",
	})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.True(t, res.Permanent)
	assert.Empty(t, transport.Sent())
	assert.Equal(t, "failed", store.EmailLogs()[0].Status)
}

func TestMailer_Send_LogWriteFailure(t *testing.T) {
	mailer, transport, store := newMailer(t)
	store.FailOn("CreateEmailLog", errors.New("connection reset"))

	_, err := mailer.Send(context.Background(), store, email.Request{
		To:       "ana@cafe-noord.nl",
		From:     "sales@cadence.example",
		Subject:  "Hello",
		HTMLBody: "<p>Hello</p>",
	})
	assert.Error(t, err)
	assert.Empty(t, transport.Sent(), "nothing is sent without a log row")
}

func TestNewMessageID(t *testing.T) {
	a := email.NewMessageID("Sales <sales@cadence.example>")
	b := email.NewMessageID("sales@cadence.example")
	assert.True(t, strings.HasPrefix(a, "<"))
	assert.True(t, strings.HasSuffix(a, "@cadence.example>"))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(email.NewMessageID(""), "@localhost>"))
}
