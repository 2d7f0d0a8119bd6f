// Package reply runs the inbound half of the pipeline: it polls the reply
// mailbox, ties each new message to the outbound email it answers,
// classifies it, applies the label's policy to the enrollment and stores
// the Reply.
package reply

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/inbound"
	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/repository"
)

// DefaultLookback is how far back each poll searches.
const DefaultLookback = 24 * time.Hour

// Summary counts what one CheckReplies run did.
type Summary struct {
	Fetched    int
	Duplicates int
	Stored     int
	Matched    int
	Failed     int
	ByLabel    map[domain.Classification]int
}

// Pipeline wires the poller, matcher, classifier and dispatcher together.
type Pipeline struct {
	store      repository.Store
	source     inbound.Source
	matcher    *Matcher
	classifier *Classifier
	dispatcher *Dispatcher
	clock      clock.Clock
	lookback   time.Duration
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline. A nil source disables CheckReplies.
func NewPipeline(store repository.Store, source inbound.Source, matcher *Matcher, classifier *Classifier, dispatcher *Dispatcher, clk clock.Clock, lookback time.Duration, logger *slog.Logger) *Pipeline {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Pipeline{
		store:      store,
		source:     source,
		matcher:    matcher,
		classifier: classifier,
		dispatcher: dispatcher,
		clock:      clk,
		lookback:   lookback,
		logger:     logger,
	}
}

// CheckReplies polls the mailbox once and processes every message not yet
// stored. Each message commits in its own transaction; a failure on one
// does not stop the rest. The returned error is set only when the mailbox
// could not be read.
func (p *Pipeline) CheckReplies(ctx context.Context) (*Summary, error) {
	sum := &Summary{ByLabel: make(map[domain.Classification]int)}
	if p.source == nil {
		metrics.CycleSkipped("check_replies", "not_configured")
		p.logger.Info("Reply mailbox not configured, skipping check-replies")
		return sum, nil
	}

	since := p.clock.Now().Add(-p.lookback)
	msgs, err := p.source.Fetch(ctx, since)
	if err != nil {
		return sum, err
	}
	sum.Fetched = len(msgs)

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		stored, matched, label, err := p.process(ctx, msg)
		switch {
		case err != nil:
			sum.Failed++
			p.logger.Error("Failed to process reply", "message_id", msg.MessageID, "from", msg.From, "error", err)
		case !stored:
			sum.Duplicates++
		default:
			sum.Stored++
			sum.ByLabel[label]++
			if matched {
				sum.Matched++
			}
		}
	}

	p.logger.Info("Reply check complete",
		"fetched", sum.Fetched,
		"stored", sum.Stored,
		"matched", sum.Matched,
		"duplicates", sum.Duplicates,
		"failed", sum.Failed,
		"by_classification", sum.ByLabel,
	)
	return sum, nil
}

func (p *Pipeline) process(ctx context.Context, msg *inbound.Message) (stored, matched bool, label domain.Classification, err error) {
	const op = "reply.process"

	exists, err := p.store.ReplyExists(ctx, msg.MessageID)
	if err != nil {
		return false, false, "", domain.Internal(err, op, "check reply")
	}
	if exists {
		return false, false, "", nil
	}

	// Classification may call the AI provider, so it runs before the
	// transaction opens.
	class := p.classifier.Classify(ctx, msg.From, msg.Subject, msg.Body)
	label = class.Label

	var reply repository.Reply
	err = p.store.ExecTx(ctx, func(q repository.Querier) error {
		match, err := p.matcher.Match(ctx, q, msg)
		if err != nil {
			return err
		}

		arg := repository.CreateReplyParams{
			ImapMessageID:  msg.MessageID,
			InReplyTo:      repository.NullString(msg.InReplyTo),
			ReferencesIds:  msg.References,
			FromEmail:      msg.From,
			Subject:        msg.Subject,
			Body:           msg.Body,
			ReceivedAt:     receivedAt(msg, p.clock.Now()),
			Classification: class.Label.String(),
			Confidence:     class.Confidence,
			Method:         class.Method.String(),
			CreatedAt:      p.clock.Now(),
		}

		var enrollment *repository.Enrollment
		if match != nil {
			matched = true
			enrollment = match.Enrollment
			arg.EmailLogID = repository.NullUUID(match.EmailLog.ID)
			arg.CompanyID = match.EmailLog.CompanyID
			arg.ContactID = match.EmailLog.ContactID
			p.logger.Debug("Reply matched",
				"message_id", msg.MessageID, "email_log_id", match.EmailLog.ID, "strategy", match.Strategy)
		}
		if enrollment != nil {
			arg.EnrollmentID = repository.NullUUID(enrollment.ID)
			arg.CompanyID = repository.NullUUID(enrollment.CompanyID)
			arg.ContactID = repository.NullUUID(enrollment.ContactID)
		}
		if !arg.ContactID.Valid {
			if err := p.senderContact(ctx, q, msg.From, &arg); err != nil {
				return err
			}
		}

		outcome, err := p.dispatcher.Dispatch(ctx, q, msg, class, enrollment)
		if err != nil {
			return err
		}
		arg.NeedsHumanReview = outcome.NeedsReview
		arg.ActionTaken = outcome.ActionTaken()
		arg.TaskID = outcome.TaskID

		reply, err = q.CreateReply(ctx, arg)
		if err != nil {
			return domain.Internal(err, op, "store reply")
		}
		return nil
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return false, false, "", nil
		}
		return false, false, "", err
	}

	metrics.ReplyStored(reply.Classification, reply.Method)
	p.logger.Info("Reply stored",
		"reply_id", reply.ID,
		"from", reply.FromEmail,
		"classification", reply.Classification,
		"confidence", reply.Confidence,
		"method", reply.Method,
		"needs_review", reply.NeedsHumanReview,
		"action", reply.ActionTaken,
	)
	return true, matched, label, nil
}

// senderContact fills the contact and company of an unmatched reply from
// the sender address, for the record only.
func (p *Pipeline) senderContact(ctx context.Context, q repository.Querier, from string, arg *repository.CreateReplyParams) error {
	contact, err := q.GetContactByEmail(ctx, from)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return domain.Internal(err, "reply.sender_contact", "load contact")
	}
	arg.ContactID = repository.NullUUID(contact.ID)
	arg.CompanyID = repository.NullUUID(contact.CompanyID)
	return nil
}

func receivedAt(msg *inbound.Message, now time.Time) time.Time {
	if msg.Date.IsZero() {
		return now
	}
	return msg.Date
}
