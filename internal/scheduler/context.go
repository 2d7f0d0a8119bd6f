package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
)

// entity is the CRM record behind an enrollment's trigger key, loaded fresh
// at send time so amounts and day counts are current.
type entity struct {
	contract    *repository.Contract
	invoice     *repository.Invoice
	quote       *repository.Quote
	opportunity *repository.Opportunity
	quarter     int
}

// loadEntity resolves the trigger key of e. Records that have since been
// deleted resolve to an empty entity; the stored trigger context still
// renders.
func loadEntity(ctx context.Context, q repository.Querier, e repository.Enrollment, facts map[string]string) (entity, error) {
	var ent entity
	if !e.TriggerEntityType.Valid {
		return ent, loadOpportunityFact(ctx, q, facts, &ent)
	}

	id := e.TriggerEntityID.String
	var err error
	switch domain.TriggerEntityType(e.TriggerEntityType.String) {
	case domain.TriggerEntityContract:
		err = loadContract(ctx, q, id, &ent)
	case domain.TriggerEntityContractQuarter:
		contractID, quarter, ok := strings.Cut(id, "_Q")
		if ok {
			ent.quarter, _ = strconv.Atoi(quarter)
			err = loadContract(ctx, q, contractID, &ent)
		}
	case domain.TriggerEntityInvoice:
		if uid, perr := uuid.Parse(id); perr == nil {
			inv, gerr := q.GetInvoice(ctx, uid)
			if gerr == nil {
				ent.invoice = &inv
			} else if !repository.IsNotFound(gerr) {
				err = gerr
			}
		}
	case domain.TriggerEntityQuote:
		if uid, perr := uuid.Parse(id); perr == nil {
			qt, gerr := q.GetQuote(ctx, uid)
			if gerr == nil {
				ent.quote = &qt
			} else if !repository.IsNotFound(gerr) {
				err = gerr
			}
		}
	}
	if err != nil {
		return ent, err
	}
	return ent, loadOpportunityFact(ctx, q, facts, &ent)
}

func loadContract(ctx context.Context, q repository.Querier, id string, ent *entity) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	ct, err := q.GetContract(ctx, uid)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	ent.contract = &ct
	return nil
}

// loadOpportunityFact follows the opportunity reference prospect triggers
// store in the enrollment context, or the quote's opportunity.
func loadOpportunityFact(ctx context.Context, q repository.Querier, facts map[string]string, ent *entity) error {
	var id uuid.UUID
	if raw, ok := facts[domain.ContextOpportunityID]; ok {
		id, _ = uuid.Parse(raw)
	}
	if id == uuid.Nil && ent.quote != nil {
		id = ent.quote.OpportunityID
	}
	if id == uuid.Nil {
		return nil
	}
	opp, err := q.GetOpportunity(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	ent.opportunity = &opp
	return nil
}

// documentKey returns the storage key of the entity's attachable document.
func (ent entity) documentKey() string {
	switch {
	case ent.invoice != nil && ent.invoice.DocumentKey.Valid:
		return ent.invoice.DocumentKey.String
	case ent.quote != nil && ent.quote.DocumentKey.Valid:
		return ent.quote.DocumentKey.String
	case ent.contract != nil && ent.contract.DocumentKey.Valid:
		return ent.contract.DocumentKey.String
	}
	return ""
}

// decodeFacts reads the trigger context stored with an enrollment.
func decodeFacts(e repository.Enrollment) map[string]string {
	facts := make(map[string]string)
	if e.TriggerContext.Valid && len(e.TriggerContext.RawMessage) > 0 {
		_ = json.Unmarshal(e.TriggerContext.RawMessage, &facts)
	}
	return facts
}

// recipient bundles what a step renders against.
type recipient struct {
	contact repository.Contact
	company repository.Company
	entity  entity
	facts   map[string]string
}

// vars builds the per-recipient template variables. Stored trigger facts
// come first; values computed now from the live records override them.
func (r recipient) vars(now time.Time, loc *time.Location, unsubscribeURL string) render.Vars {
	lang := r.contact.Language
	name := render.DisplayName(strings.TrimSpace(r.contact.FirstName+" "+r.contact.LastName), lang)
	today := clock.Date(now, loc)

	v := render.Vars{}
	for k, val := range r.facts {
		v[k] = val
	}
	v["contact_name"] = name
	v["first_name"] = render.DisplayName(r.contact.FirstName, lang)
	v["last_name"] = render.DisplayName(r.contact.LastName, lang)
	v["contact_email"] = r.contact.Email
	v["company_name"] = r.company.Name
	v["current_year"] = strconv.Itoa(now.In(loc).Year())
	v["today"] = render.FormatDate(today)
	if v["first_name"] == "" {
		v["first_name"] = render.FirstName(name)
	}
	if unsubscribeURL != "" {
		v["unsubscribe_url"] = unsubscribeURL
	}

	if ct := r.entity.contract; ct != nil {
		v["contract_number"] = ct.Number
		v["contract_value"] = render.FormatMoney(ct.MonthlyValueCents, ct.Currency, lang)
		v["end_date"] = render.FormatDate(ct.EndDate)
		v["start_date"] = render.FormatDate(ct.StartDate)
		v["days_until_expiry"] = strconv.Itoa(daysBetween(today, ct.EndDate))
		v["zone_count"] = strconv.Itoa(int(ct.ZoneCount))
	}
	if r.entity.quarter > 0 {
		v["quarter"] = render.Quarter(r.entity.quarter)
		v["quarter_number"] = strconv.Itoa(r.entity.quarter)
	}
	if inv := r.entity.invoice; inv != nil {
		v["invoice_number"] = inv.Number
		v["invoice_amount"] = render.FormatMoney(inv.AmountCents, inv.Currency, lang)
		v["due_date"] = render.FormatDate(inv.DueDate)
		v["days_overdue"] = strconv.Itoa(max(0, daysBetween(inv.DueDate, today)))
	}
	if qt := r.entity.quote; qt != nil {
		v["quote_number"] = qt.Number
		v["quote_amount"] = render.FormatMoney(qt.AmountCents, qt.Currency, lang)
	}
	if opp := r.entity.opportunity; opp != nil {
		v["opportunity_name"] = opp.Name
		v["opportunity_stage"] = opp.Stage
		if opp.ValueCents > 0 {
			v["opportunity_value"] = render.FormatMoney(opp.ValueCents, opp.Currency, lang)
		}
	}
	if raw, ok := r.facts["holiday_date"]; ok {
		if d, err := time.Parse(time.DateOnly, raw); err == nil {
			v["holiday_date"] = render.FormatDate(d)
		}
	}
	return v
}

// daysBetween counts calendar days from a to b. Both are truncated to their
// UTC date first.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// variant picks the step's subject and body for the contact's language.
func variant(step repository.SequenceStep, language string) render.Variant {
	base := render.Variant{Subject: step.SubjectTemplate, Body: step.BodyTemplate}
	if !step.Translations.Valid || len(step.Translations.RawMessage) == 0 {
		return base
	}
	var translations map[string]render.Variant
	if err := json.Unmarshal(step.Translations.RawMessage, &translations); err != nil {
		return base
	}
	return render.SelectVariant(base, translations, language)
}
