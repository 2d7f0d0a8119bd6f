package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/cadence/internal/worker"
)

// DraftExpirer expires AI drafts past their review deadline.
type DraftExpirer interface {
	ExpireDrafts(ctx context.Context) (int, error)
}

// ExpireDraftsHandler processes expire_ai_drafts jobs.
type ExpireDraftsHandler struct {
	expirer DraftExpirer
	logger  *slog.Logger
}

// NewExpireDraftsHandler creates a new handler for draft expiry jobs.
func NewExpireDraftsHandler(expirer DraftExpirer, logger *slog.Logger) *ExpireDraftsHandler {
	return &ExpireDraftsHandler{expirer: expirer, logger: logger}
}

// Type returns the job type identifier.
func (h *ExpireDraftsHandler) Type() string {
	return worker.JobTypeExpireDrafts
}

// Handle expires overdue drafts and moves their enrollments on.
func (h *ExpireDraftsHandler) Handle(ctx context.Context, _ []byte) error {
	n, err := h.expirer.ExpireDrafts(ctx)
	if err != nil {
		return classify(fmt.Errorf("expire drafts: %w", err))
	}
	h.logger.Info("Expired AI drafts", "count", n)
	return nil
}
