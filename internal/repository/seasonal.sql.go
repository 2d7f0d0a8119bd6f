package repository

import (
	"context"
	"time"
)

const getSeasonalTriggerDate = `-- name: GetSeasonalTriggerDate :one
SELECT id, holiday_type, year, holiday_date, trigger_date, created_at
FROM seasonal_trigger_dates
WHERE holiday_type = $1 AND year = $2
`

type GetSeasonalTriggerDateParams struct {
	HolidayType string
	Year        int32
}

func (q *Queries) GetSeasonalTriggerDate(ctx context.Context, arg GetSeasonalTriggerDateParams) (SeasonalTriggerDate, error) {
	row := q.db.QueryRowContext(ctx, getSeasonalTriggerDate, arg.HolidayType, arg.Year)
	var i SeasonalTriggerDate
	err := row.Scan(
		&i.ID,
		&i.HolidayType,
		&i.Year,
		&i.HolidayDate,
		&i.TriggerDate,
		&i.CreatedAt,
	)
	return i, err
}

const upsertSeasonalTriggerDate = `-- name: UpsertSeasonalTriggerDate :one
INSERT INTO seasonal_trigger_dates (holiday_type, year, holiday_date, trigger_date, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (holiday_type, year)
DO UPDATE SET holiday_date = EXCLUDED.holiday_date, trigger_date = EXCLUDED.trigger_date
RETURNING id, holiday_type, year, holiday_date, trigger_date, created_at
`

type UpsertSeasonalTriggerDateParams struct {
	HolidayType string
	Year        int32
	HolidayDate time.Time
	TriggerDate time.Time
	CreatedAt   time.Time
}

func (q *Queries) UpsertSeasonalTriggerDate(ctx context.Context, arg UpsertSeasonalTriggerDateParams) (SeasonalTriggerDate, error) {
	row := q.db.QueryRowContext(ctx, upsertSeasonalTriggerDate,
		arg.HolidayType,
		arg.Year,
		arg.HolidayDate,
		arg.TriggerDate,
		arg.CreatedAt,
	)
	var i SeasonalTriggerDate
	err := row.Scan(
		&i.ID,
		&i.HolidayType,
		&i.Year,
		&i.HolidayDate,
		&i.TriggerDate,
		&i.CreatedAt,
	)
	return i, err
}
