package trigger

import (
	"context"
	"time"

	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
)

// prospects runs every active prospect cadence against the CRM event it
// listens for.
func (ev *Evaluator) prospects(ctx context.Context, today time.Time, sum *Summary) error {
	seqs, err := ev.store.ListActiveSequencesByType(ctx, domain.SequenceTypeProspect.String())
	if err != nil {
		return err
	}
	now := ev.clock.Now()
	for _, seq := range seqs {
		var err error
		switch domain.TriggerEvent(seq.TriggerEvent.String) {
		case domain.TriggerEventNewOpportunity:
			err = ev.newOpportunities(ctx, now, seq, sum)
		case domain.TriggerEventStaleDeal:
			err = ev.staleDeals(ctx, now, seq, sum)
		case domain.TriggerEventQuoteSent:
			err = ev.sentQuotes(ctx, now, seq, sum)
		default:
			ev.logger.Warn("Prospect cadence without trigger event", "sequence_id", seq.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func lookbackDays(seq repository.Sequence) int {
	if seq.TriggerOffsetDays > 0 {
		return int(seq.TriggerOffsetDays)
	}
	return defaultProspectLookbackDays
}

// newOpportunities enrolls the contact of every opportunity created within
// the lookback that is still New or Contacted.
func (ev *Evaluator) newOpportunities(ctx context.Context, now time.Time, seq repository.Sequence, sum *Summary) error {
	opps, err := ev.store.ListNewOpportunities(ctx, now.AddDate(0, 0, -lookbackDays(seq)))
	if err != nil {
		return err
	}
	for _, o := range opps {
		if err := ev.enrollOpportunity(ctx, sum, seq, o, domain.OpportunityKey(o.ID)); err != nil {
			return err
		}
	}
	return nil
}

// staleDeals enrolls the contact of every open opportunity without activity
// for the sequence's offset (or the configured default). The key includes
// the last activity date, so a deal that goes quiet again re-triggers.
func (ev *Evaluator) staleDeals(ctx context.Context, now time.Time, seq repository.Sequence, sum *Summary) error {
	days := ev.cfg.StaleDealDays
	if seq.TriggerOffsetDays > 0 {
		days = int(seq.TriggerOffsetDays)
	}
	opps, err := ev.store.ListStaleOpportunities(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	for _, o := range opps {
		if err := ev.enrollOpportunity(ctx, sum, seq, o, domain.StaleDealKey(o.ID, o.LastActivityAt)); err != nil {
			return err
		}
	}
	return nil
}

// sentQuotes enrolls the recipient of every quote sent within the lookback.
func (ev *Evaluator) sentQuotes(ctx context.Context, now time.Time, seq repository.Sequence, sum *Summary) error {
	quotes, err := ev.store.ListSentQuotes(ctx, repository.ListSentQuotesParams{
		SentAfter:  now.AddDate(0, 0, -lookbackDays(seq)),
		SentBefore: now,
	})
	if err != nil {
		return err
	}
	for _, qt := range quotes {
		contact, ok, err := ev.prospectContact(ctx, qt.CompanyID, qt.ContactID)
		if err != nil {
			return err
		}
		if !ok {
			sum.Skipped["no_contact"]++
			continue
		}
		ev.enrollOne(ctx, sum, seq, contact, domain.QuoteKey(qt.ID), map[string]string{
			domain.ContextOpportunityID: qt.OpportunityID.String(),
			"quote_number":              qt.Number,
			"quote_amount":              render.FormatMoney(qt.AmountCents, qt.Currency, contact.Language),
			"quote_sent_date":           qt.SentAt.Time.Format(time.DateOnly),
		})
	}
	return nil
}

func (ev *Evaluator) enrollOpportunity(ctx context.Context, sum *Summary, seq repository.Sequence, o repository.Opportunity, key domain.TriggerKey) error {
	contact, ok, err := ev.prospectContact(ctx, o.CompanyID, o.ContactID)
	if err != nil {
		return err
	}
	if !ok {
		sum.Skipped["no_contact"]++
		return nil
	}
	ev.enrollOne(ctx, sum, seq, contact, key, map[string]string{
		domain.ContextOpportunityID: o.ID.String(),
		"opportunity_name":          o.Name,
		"opportunity_stage":         o.Stage,
		"last_activity_date":        o.LastActivityAt.Format(time.DateOnly),
	})
	return nil
}

// prospectContact returns the contact named on the record, else the
// company's primary or decision-making contact.
func (ev *Evaluator) prospectContact(ctx context.Context, companyID uuid.UUID, contactID uuid.NullUUID) (repository.Contact, bool, error) {
	if contactID.Valid {
		c, err := ev.store.GetContact(ctx, contactID.UUID)
		if err == nil {
			return c, true, nil
		}
		if !repository.IsNotFound(err) {
			return repository.Contact{}, false, err
		}
	}
	return ev.companyContact(ctx, companyID, domain.SequenceTypeProspect, primary, decisionMaker)
}
