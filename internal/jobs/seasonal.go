package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/worker"
)

// SeasonalCalendar writes a year of holiday trigger dates.
type SeasonalCalendar interface {
	SetSeasonalDates(ctx context.Context, year int) (int, error)
}

// SeasonalDatesHandler processes set_seasonal_dates jobs.
type SeasonalDatesHandler struct {
	calendar SeasonalCalendar
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSeasonalDatesHandler creates a new handler for seasonal calendar jobs.
func NewSeasonalDatesHandler(calendar SeasonalCalendar, clk clock.Clock, logger *slog.Logger) *SeasonalDatesHandler {
	return &SeasonalDatesHandler{calendar: calendar, clock: clk, logger: logger}
}

// Type returns the job type identifier.
func (h *SeasonalDatesHandler) Type() string {
	return worker.JobTypeSeasonalDates
}

// Handle writes the calendar for the payload's year, or for the coming year
// when none is given. Rows are upserted, so reruns are harmless.
func (h *SeasonalDatesHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.SeasonalDatesPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
		}
	}
	year := p.Year
	if year == 0 {
		year = h.clock.Now().Year() + 1
	}

	n, err := h.calendar.SetSeasonalDates(ctx, year)
	if err != nil {
		return classify(fmt.Errorf("set seasonal dates for %d: %w", year, err))
	}
	h.logger.Info("Seasonal calendar written", "year", year, "holidays", n)
	return nil
}
