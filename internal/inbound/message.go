// Package inbound reads replies from the prospect mailbox over IMAP and
// turns them into Messages.
package inbound

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DukeRupert/cadence/internal/render"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// maxBodyBytes caps how much of a single body part is read.
const maxBodyBytes = 1 << 20

// Message is one inbound email reduced to what the reply pipeline needs.
// Message IDs keep their angle brackets so they compare equal to the IDs
// stored on outbound email logs.
type Message struct {
	MessageID  string
	InReplyTo  string
	References []string
	From       string // bare address, lower case
	FromName   string
	Subject    string // decoded
	Body       string // plain text
	Date       time.Time
}

// NormalizeID returns a msg-id in "<id>" form.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return "<" + strings.Trim(id, "<>") + ">"
}

// Parse reads an RFC 5322 message. Encoded headers and non-UTF-8 charsets
// are decoded. The body is the first text/plain part, or the first
// text/html part stripped of tags when there is no plain part.
func Parse(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	msg := &Message{}

	if id, err := h.MessageID(); err == nil && id != "" {
		msg.MessageID = NormalizeID(id)
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = NormalizeID(ids[0])
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		for _, id := range ids {
			msg.References = append(msg.References, NormalizeID(id))
		}
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = strings.ToLower(from[0].Address)
		msg.FromName = from[0].Name
	}
	if subject, err := h.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(h.Get("Subject"))
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	var plain, html string
	for plain == "" {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("read part: %w", err)
		}
		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		body, err := io.ReadAll(io.LimitReader(p.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		switch {
		case contentType == "text/plain" || contentType == "":
			plain = string(body)
		case contentType == "text/html" && html == "":
			html = string(body)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = strings.TrimSpace(strings.ReplaceAll(plain, "\r\n", "\n"))
	case html != "":
		msg.Body = render.HTMLToText(html)
	}

	if msg.MessageID == "" {
		return nil, errors.New("message has no Message-ID")
	}
	return msg, nil
}
