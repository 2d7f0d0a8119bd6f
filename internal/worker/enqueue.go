package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/cadence/internal/repository"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeEmailCycle    = "process_email_cycle"
	JobTypeProspectCycle = "process_prospect_cycle"
	JobTypeCheckReplies  = "check_replies"
	JobTypeExpireDrafts  = "expire_ai_drafts"
	JobTypeSeasonalDates = "set_seasonal_dates"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// ErrAlreadyQueued is returned when a job of the same type is already
// pending or running.
var ErrAlreadyQueued = errors.New("job of this type already queued")

// CyclePayload is the payload for the send cycle jobs.
type CyclePayload struct {
	Force bool `json:"force,omitempty"`
}

// SeasonalDatesPayload is the payload for the seasonal calendar job. A zero
// year means the coming year.
type SeasonalDatesPayload struct {
	Year int `json:"year,omitempty"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = p.ScheduledAt.Add(delay)
	}
}

// EnqueueJob queues a job of jobType. At most one job per type is open at a
// time; a second enqueue returns ErrAlreadyQueued.
func EnqueueJob(
	ctx context.Context,
	q repository.Querier,
	jobType string,
	payload any,
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := q.EnqueueJob(ctx, params)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return repository.Job{}, ErrAlreadyQueued
		}
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// EnqueueCycle queues a customer or prospect send cycle.
func EnqueueCycle(ctx context.Context, q repository.Querier, prospect, force bool, opts ...EnqueueOption) (repository.Job, error) {
	jobType := JobTypeEmailCycle
	if prospect {
		jobType = JobTypeProspectCycle
	}
	return EnqueueJob(ctx, q, jobType, CyclePayload{Force: force}, opts...)
}

// EnqueueSeasonalDates queues the seasonal calendar computation for year.
func EnqueueSeasonalDates(ctx context.Context, q repository.Querier, year int, opts ...EnqueueOption) (repository.Job, error) {
	return EnqueueJob(ctx, q, JobTypeSeasonalDates, SeasonalDatesPayload{Year: year}, opts...)
}
