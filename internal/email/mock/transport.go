// Package mock provides an in-memory email Transport for tests.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/DukeRupert/cadence/internal/email"
)

// Transport records every message it is asked to send.
type Transport struct {
	mu       sync.Mutex
	sent     []email.Message
	err      error
	failures map[string]error
}

// NewTransport returns a Transport that accepts every message.
func NewTransport() *Transport {
	return &Transport{failures: make(map[string]error)}
}

// Send implements email.Transport.
func (t *Transport) Send(ctx context.Context, msg *email.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := t.failures[strings.ToLower(msg.To)]; ok {
		return err
	}
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, *msg)
	return nil
}

// FailWith makes every subsequent Send return err. Pass nil to recover.
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// FailFor makes sends to one recipient return err.
func (t *Transport) FailFor(to string, err error) {
	t.mu.Lock()
	t.failures[strings.ToLower(to)] = err
	t.mu.Unlock()
}

// Sent returns a copy of the accepted messages in send order.
func (t *Transport) Sent() []email.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]email.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// Reset forgets accepted messages and configured failures.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.sent = nil
	t.err = nil
	t.failures = make(map[string]error)
	t.mu.Unlock()
}

var _ email.Transport = (*Transport)(nil)
