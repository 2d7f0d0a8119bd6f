package inbound

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrNotConfigured is returned by NewPoller when the mailbox credentials are
// missing. Callers log it and skip the reply cycle.
var ErrNotConfigured = errors.New("reply mailbox not configured")

// Source yields the inbound messages received since a point in time.
type Source interface {
	Fetch(ctx context.Context, since time.Time) ([]*Message, error)
}

// Config holds the IMAP connection settings of the reply mailbox.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string // default INBOX
	Timeout  time.Duration

	// SelfAddress is the mailbox's own address. Messages from it are our
	// own outbound copies and are skipped.
	SelfAddress string

	// Plaintext disables TLS. Only for local development servers.
	Plaintext bool
}

// Poller reads the reply mailbox read-only. It never sets flags or moves
// messages; the Reply table is the record of what was processed.
type Poller struct {
	cfg    Config
	logger *slog.Logger
}

// NewPoller validates cfg and returns a Poller.
func NewPoller(cfg Config, logger *slog.Logger) (*Poller, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.SelfAddress = strings.ToLower(strings.TrimSpace(cfg.SelfAddress))
	return &Poller{cfg: cfg, logger: logger}, nil
}

// Fetch implements Source. It searches the mailbox for messages since the
// given time and returns the parsed ones, oldest first. Messages that fail
// to parse are logged and skipped.
func (p *Poller) Fetch(ctx context.Context, since time.Time) ([]*Message, error) {
	c, err := p.dial()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(p.cfg.Username, p.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(p.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", p.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchInternalDate, section.FetchItem()}

	fetched := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, fetched)
	}()

	var out []*Message
	for raw := range fetched {
		if !raw.InternalDate.IsZero() && raw.InternalDate.Before(since) {
			continue
		}
		body := raw.GetBody(section)
		if body == nil {
			p.logger.Warn("IMAP message without body", "seq", raw.SeqNum)
			continue
		}
		msg, err := Parse(body)
		if err != nil {
			p.logger.Warn("Skipping unparseable message", "seq", raw.SeqNum, "error", err)
			continue
		}
		if msg.Date.IsZero() {
			msg.Date = raw.InternalDate
		}
		if p.cfg.SelfAddress != "" && msg.From == p.cfg.SelfAddress {
			continue
		}
		out = append(out, msg)
	}
	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("imap fetch: %w", err)
	}

	p.logger.Debug("Mailbox polled", "mailbox", p.cfg.Mailbox, "found", len(seqNums), "returned", len(out))
	return out, nil
}

func (p *Poller) dial() (*client.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}

	var (
		c   *client.Client
		err error
	)
	if p.cfg.Plaintext {
		c, err = client.DialWithDialer(dialer, addr)
	} else {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: p.cfg.Host})
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	c.Timeout = p.cfg.Timeout
	return c, nil
}

var _ Source = (*Poller)(nil)
