package trigger

import (
	"context"
	"time"

	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/repository"
)

// renewals enrolls the primary or decision-making contact of every
// renewable contract ending exactly one window from today.
func (ev *Evaluator) renewals(ctx context.Context, today time.Time, sum *Summary) error {
	seqs, err := ev.store.ListActiveSequencesByType(ctx, domain.SequenceTypeRenewal.String())
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		window, err := ev.window(ctx, seq)
		if err != nil {
			return err
		}
		contracts, err := ev.store.ListRenewableContractsEndingOn(ctx, today.AddDate(0, 0, window))
		if err != nil {
			return err
		}
		for _, ct := range contracts {
			contact, ok, err := ev.companyContact(ctx, ct.CompanyID, domain.SequenceTypeRenewal, primary, decisionMaker)
			if err != nil {
				return err
			}
			if !ok {
				sum.Skipped["no_contact"]++
				continue
			}
			ev.enrollOne(ctx, sum, seq, contact, domain.ContractKey(ct.ID), contractFacts(ct))
		}
	}
	return nil
}

// payments enrolls the billing contact (else the primary) of every
// outstanding invoice that fell due one window ago.
func (ev *Evaluator) payments(ctx context.Context, today time.Time, sum *Summary) error {
	seqs, err := ev.store.ListActiveSequencesByType(ctx, domain.SequenceTypePayment.String())
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		window, err := ev.window(ctx, seq)
		if err != nil {
			return err
		}
		invoices, err := ev.store.ListOutstandingInvoicesDueOn(ctx, today.AddDate(0, 0, -window))
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			contact, ok, err := ev.companyContact(ctx, inv.CompanyID, domain.SequenceTypePayment, billing, primary)
			if err != nil {
				return err
			}
			if !ok {
				sum.Skipped["no_contact"]++
				continue
			}
			ev.enrollOne(ctx, sum, seq, contact, domain.InvoiceKey(inv.ID), map[string]string{
				"invoice_number": inv.Number,
				"due_date":       inv.DueDate.Format(time.DateOnly),
			})
		}
	}
	return nil
}

// quarterlies enrolls the primary contact of every active contract whose
// age in days is a positive multiple of 90.
func (ev *Evaluator) quarterlies(ctx context.Context, today time.Time, sum *Summary) error {
	seqs, err := ev.store.ListActiveSequencesByType(ctx, domain.SequenceTypeQuarterly.String())
	if err != nil {
		return err
	}
	if len(seqs) == 0 {
		return nil
	}
	contracts, err := ev.store.ListActiveContracts(ctx)
	if err != nil {
		return err
	}
	for _, ct := range contracts {
		quarter, ok := QuarterOn(ct.StartDate, today)
		if !ok {
			continue
		}
		contact, found, err := ev.companyContact(ctx, ct.CompanyID, domain.SequenceTypeQuarterly, primary)
		if err != nil {
			return err
		}
		if !found {
			sum.Skipped["no_contact"]++
			continue
		}
		facts := contractFacts(ct)
		facts["quarter"] = itoa(quarter)
		for _, seq := range seqs {
			ev.enrollOne(ctx, sum, seq, contact, domain.QuarterKey(ct.ID, quarter), facts)
		}
	}
	return nil
}

// QuarterOn reports whether today is a quarterly check-in day of a contract
// that started on start, and which one.
func QuarterOn(start, today time.Time) (int, bool) {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(t.Sub(s).Hours() / 24)
	if days <= 0 || days%quarterDays != 0 {
		return 0, false
	}
	return days / quarterDays, true
}

// seasonals enrolls the primary contact of every seasonal-opted-in company
// in a holiday's audience on the holiday's trigger date. The stored
// calendar row wins over the built-in date; the key carries the year of the
// holiday itself.
func (ev *Evaluator) seasonals(ctx context.Context, today time.Time, sum *Summary) error {
	for _, h := range domain.Holidays() {
		seqs, err := ev.store.ListActiveSequencesByType(ctx, domain.SeasonalSequenceType(h.Type).String())
		if err != nil {
			return err
		}
		if len(seqs) == 0 {
			continue
		}

		holidayDate, due, err := ev.holidayDue(ctx, h, today)
		if err != nil {
			return err
		}
		if !due {
			continue
		}

		companies, err := ev.store.ListSeasonalCompanies(ctx, h.Audience)
		if err != nil {
			return err
		}
		ev.logger.Info("Seasonal trigger date reached",
			"holiday", h.Type, "holiday_date", holidayDate.Format(time.DateOnly), "companies", len(companies))

		key := domain.SeasonalKey(h.Type, holidayDate.Year())
		facts := map[string]string{
			"holiday_name": h.Name,
			"holiday_date": holidayDate.Format(time.DateOnly),
		}
		for _, co := range companies {
			contact, ok, err := ev.companyContact(ctx, co.ID, domain.SeasonalSequenceType(h.Type), primary)
			if err != nil {
				return err
			}
			if !ok {
				sum.Skipped["no_contact"]++
				continue
			}
			for _, seq := range seqs {
				ev.enrollOne(ctx, sum, seq, contact, key, facts)
			}
		}
	}
	return nil
}

// holidayDue checks this year's and next year's occurrence of h, so a
// January holiday can trigger in December.
func (ev *Evaluator) holidayDue(ctx context.Context, h domain.Holiday, today time.Time) (time.Time, bool, error) {
	for _, year := range []int{today.Year(), today.Year() + 1} {
		holidayDate, triggerDate := h.Date(year), h.TriggerDate(year)

		row, err := ev.store.GetSeasonalTriggerDate(ctx, repository.GetSeasonalTriggerDateParams{
			HolidayType: string(h.Type),
			Year:        int32(year),
		})
		switch {
		case err == nil:
			holidayDate, triggerDate = row.HolidayDate, row.TriggerDate
		case !repository.IsNotFound(err):
			return time.Time{}, false, err
		}

		if sameDay(triggerDate, today) {
			return holidayDate, true, nil
		}
	}
	return time.Time{}, false, nil
}

func contractFacts(ct repository.Contract) map[string]string {
	return map[string]string{
		"contract_number": ct.Number,
		"end_date":        ct.EndDate.Format(time.DateOnly),
		"zone_count":      itoa(int(ct.ZoneCount)),
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// Seasonal calendar
// =============================================================================

// SetSeasonalDates writes every holiday of year to the seasonal calendar.
// Variable holidays trigger SeasonalLeadDays before the holiday; fixed ones
// on their fixed trigger date. It returns the number of rows written.
func (ev *Evaluator) SetSeasonalDates(ctx context.Context, year int) (int, error) {
	const op = "trigger.set_seasonal_dates"
	if year < 2000 || year > 2200 {
		return 0, domain.Invalid(op, "year out of range")
	}

	written := 0
	err := ev.store.ExecTx(ctx, func(q repository.Querier) error {
		for _, h := range domain.Holidays() {
			row, err := q.UpsertSeasonalTriggerDate(ctx, repository.UpsertSeasonalTriggerDateParams{
				HolidayType: string(h.Type),
				Year:        int32(year),
				HolidayDate: h.Date(year),
				TriggerDate: h.TriggerDate(year),
				CreatedAt:   ev.clock.Now(),
			})
			if err != nil {
				return domain.Internal(err, op, "upsert "+string(h.Type))
			}
			ev.logger.Info("Seasonal date set",
				"holiday", h.Type,
				"year", year,
				"holiday_date", row.HolidayDate.Format(time.DateOnly),
				"trigger_date", row.TriggerDate.Format(time.DateOnly),
			)
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
