package reply

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/inbound"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
)

const (
	// subjectWindow bounds the subject+recipient fallback.
	subjectWindow = 30 * 24 * time.Hour

	// subjectPrefixLen is how much of the stripped subject must appear in
	// the outbound subject.
	subjectPrefixLen = 50
)

// Match strategies, recorded in logs.
const (
	ByInReplyTo  = "in_reply_to"
	ByReferences = "references"
	BySubject    = "subject"
)

// Match is the outbound email and enrollment an inbound message answers.
// Enrollment is nil when the email could not be tied to one.
type Match struct {
	EmailLog   repository.EmailLog
	Enrollment *repository.Enrollment
	Strategy   string
	Candidates int
}

// Matcher ties inbound messages to outbound sequence email.
type Matcher struct {
	clock  clock.Clock
	logger *slog.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(clk clock.Clock, logger *slog.Logger) *Matcher {
	return &Matcher{clock: clk, logger: logger}
}

// Match tries In-Reply-To, then each References entry in order, then the
// most recent sequence email sent to the sender in the last 30 days whose
// subject contains the reply's stripped subject. It returns nil when
// nothing matches.
func (m *Matcher) Match(ctx context.Context, q repository.Querier, msg *inbound.Message) (*Match, error) {
	const op = "reply.match"

	match, err := m.byHeaders(ctx, q, msg)
	if err != nil {
		return nil, domain.Internal(err, op, "match by message id")
	}
	if match == nil {
		match, err = m.bySubject(ctx, q, msg)
		if err != nil {
			return nil, domain.Internal(err, op, "match by subject")
		}
	}
	if match == nil {
		return nil, nil
	}

	enrollment, err := m.owningEnrollment(ctx, q, match.EmailLog)
	if err != nil {
		return nil, domain.Internal(err, op, "find enrollment")
	}
	match.Enrollment = enrollment
	return match, nil
}

func (m *Matcher) byHeaders(ctx context.Context, q repository.Querier, msg *inbound.Message) (*Match, error) {
	if msg.InReplyTo != "" {
		log, err := q.GetSequenceEmailByMessageID(ctx, msg.InReplyTo)
		if err == nil {
			return &Match{EmailLog: log, Strategy: ByInReplyTo, Candidates: 1}, nil
		}
		if !repository.IsNotFound(err) {
			return nil, err
		}
	}
	for _, ref := range msg.References {
		if ref == msg.InReplyTo {
			continue
		}
		log, err := q.GetSequenceEmailByMessageID(ctx, ref)
		if err == nil {
			return &Match{EmailLog: log, Strategy: ByReferences, Candidates: 1}, nil
		}
		if !repository.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func (m *Matcher) bySubject(ctx context.Context, q repository.Querier, msg *inbound.Message) (*Match, error) {
	needle := strings.ToLower(truncate(StripSubjectPrefixes(msg.Subject), subjectPrefixLen))
	if needle == "" || msg.From == "" {
		return nil, nil
	}

	recent, err := q.ListRecentSequenceEmailsTo(ctx, repository.ListRecentSequenceEmailsToParams{
		ToEmail: msg.From,
		Since:   m.clock.Now().Add(-subjectWindow),
	})
	if err != nil {
		return nil, err
	}

	var candidates []repository.EmailLog
	for _, l := range recent {
		if strings.Contains(strings.ToLower(l.Subject), needle) {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > 1 {
		m.logger.Warn("Ambiguous subject match, using most recent email",
			"message_id", msg.MessageID,
			"from", msg.From,
			"subject", msg.Subject,
			"candidates", len(candidates),
			"email_log_id", candidates[0].ID,
		)
	}
	return &Match{EmailLog: candidates[0], Strategy: BySubject, Candidates: len(candidates)}, nil
}

// owningEnrollment follows the email log to its step execution, then to the
// log's own enrollment column, then to the contact's most recent enrollment
// that could still send.
func (m *Matcher) owningEnrollment(ctx context.Context, q repository.Querier, log repository.EmailLog) (*repository.Enrollment, error) {
	ex, err := q.GetExecutionByEmailLog(ctx, log.ID)
	switch {
	case err == nil:
		return findEnrollment(ctx, q, ex.EnrollmentID)
	case !repository.IsNotFound(err):
		return nil, err
	}

	if log.EnrollmentID.Valid {
		return findEnrollment(ctx, q, log.EnrollmentID.UUID)
	}

	if !log.ContactID.Valid {
		return nil, nil
	}
	all, err := q.ListEnrollmentsByContact(ctx, log.ContactID.UUID)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if domain.EnrollmentStatus(e.Status).AcceptsNextStep() {
			return &e, nil
		}
	}
	if len(all) > 0 {
		return &all[0], nil
	}
	return nil, nil
}

func findEnrollment(ctx context.Context, q repository.Querier, id uuid.UUID) (*repository.Enrollment, error) {
	e, err := q.GetEnrollment(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

var subjectPrefixPattern = regexp.MustCompile(`(?i)^\s*(re|fwd?|aw|wg|sv|antw|tr)\s*(\[\d+\])?\s*:\s*`)

// StripSubjectPrefixes removes any run of reply and forward prefixes such
// as "Re:", "Fwd:" and "AW:".
func StripSubjectPrefixes(subject string) string {
	for {
		stripped := subjectPrefixPattern.ReplaceAllString(subject, "")
		if stripped == subject {
			return strings.TrimSpace(subject)
		}
		subject = stripped
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
