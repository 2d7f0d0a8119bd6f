package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/cadence/internal/scheduler"
	"github.com/DukeRupert/cadence/internal/worker"
)

// CycleRunner runs one send cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, opts scheduler.CycleOptions) (*scheduler.Summary, error)
}

// CycleHandler processes the customer or prospect send cycle.
type CycleHandler struct {
	runner   CycleRunner
	prospect bool
	logger   *slog.Logger
}

// NewEmailCycleHandler creates the handler for process_email_cycle jobs.
func NewEmailCycleHandler(runner CycleRunner, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{runner: runner, logger: logger}
}

// NewProspectCycleHandler creates the handler for process_prospect_cycle jobs.
func NewProspectCycleHandler(runner CycleRunner, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{runner: runner, prospect: true, logger: logger}
}

// Type returns the job type identifier.
func (h *CycleHandler) Type() string {
	if h.prospect {
		return worker.JobTypeProspectCycle
	}
	return worker.JobTypeEmailCycle
}

// Handle runs one cycle. Per-execution failures are already recorded on the
// executions themselves, so only a cycle that could not run fails the job.
func (h *CycleHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.CyclePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
		}
	}

	sum, err := h.runner.RunCycle(ctx, scheduler.CycleOptions{Prospect: h.prospect, Force: p.Force})
	if err != nil {
		return classify(fmt.Errorf("run %s: %w", h.Type(), err))
	}
	if sum.Errors > 0 {
		h.logger.Warn("Cycle finished with errors", "job_type", h.Type(), "errors", sum.Errors)
	}
	return nil
}
