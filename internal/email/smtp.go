package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

// =============================================================================
// SMTP Transport Implementation
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int // 465 uses implicit TLS, anything else STARTTLS when offered
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport submits messages over SMTP. gomail builds and addresses the
// message; the session runs on a connection whose deadline is the send
// timeout, so a timed-out send has stopped by the time Send returns.
type SMTPTransport struct {
	config    SMTPConfig
	tlsConfig *tls.Config
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(config SMTPConfig, logger *slog.Logger) *SMTPTransport {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	return &SMTPTransport{
		config:    config,
		tlsConfig: &tls.Config{ServerName: config.Host},
		dial:      dialer.DialContext,
		timeout:   timeout,
		logger:    logger,
	}
}

// Send implements Transport. The submission is aborted when ctx is done or
// the configured timeout elapses, whichever comes first.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.submit(ctx, buildMessage(msg)); err != nil {
		if cause := abortCause(ctx, err); cause != nil {
			t.logger.Error("smtp submission aborted",
				"to", msg.To,
				"message_id", msg.MessageID,
				"timeout", t.timeout,
				"error", err,
			)
			return fmt.Errorf("smtp send: %w: %w", cause, err)
		}
		t.logger.Error("smtp submission failed",
			"to", msg.To,
			"message_id", msg.MessageID,
			"error", err,
		)
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// abortCause reports why a failed session was cut short, or nil when it
// failed on its own. The socket deadline can fire just before ctx does.
func abortCause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return nil
}

func (t *SMTPTransport) submit(ctx context.Context, m *gomail.Message) error {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	raw, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer raw.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := raw.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	conn := raw
	if t.config.Port == 465 {
		conn = tls.Client(raw, t.tlsConfig)
	}
	c, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	defer c.Close()

	if t.config.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(t.tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if t.config.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := gomail.Send(session(c), m); err != nil {
		return err
	}
	return c.Quit()
}

// session submits one envelope on an open client.
func session(c *smtp.Client) gomail.SendFunc {
	return func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}
}

// buildMessage converts msg into a multipart/alternative gomail message with
// the text part first, so the HTML part is the preferred alternative.
func buildMessage(msg *Message) *gomail.Message {
	m := gomail.NewMessage()

	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetHeader("To", msg.To)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", msg.MessageID)
	if !msg.Date.IsZero() {
		m.SetDateHeader("Date", msg.Date)
	}
	for name, value := range msg.Headers {
		m.SetHeader(name, value)
	}

	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Filename, settings...)
	}

	return m
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var _ Transport = (*SMTPTransport)(nil)
