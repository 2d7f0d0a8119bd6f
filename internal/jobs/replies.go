package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/cadence/internal/reply"
	"github.com/DukeRupert/cadence/internal/worker"
)

// ReplyChecker polls the reply mailbox once.
type ReplyChecker interface {
	CheckReplies(ctx context.Context) (*reply.Summary, error)
}

// CheckRepliesHandler processes check_replies jobs.
type CheckRepliesHandler struct {
	checker ReplyChecker
	logger  *slog.Logger
}

// NewCheckRepliesHandler creates a new handler for reply polling jobs.
func NewCheckRepliesHandler(checker ReplyChecker, logger *slog.Logger) *CheckRepliesHandler {
	return &CheckRepliesHandler{checker: checker, logger: logger}
}

// Type returns the job type identifier.
func (h *CheckRepliesHandler) Type() string {
	return worker.JobTypeCheckReplies
}

// Handle polls the mailbox. A message that fails to process is skipped and
// picked up again by the next poll, so only a mailbox error fails the job.
func (h *CheckRepliesHandler) Handle(ctx context.Context, _ []byte) error {
	sum, err := h.checker.CheckReplies(ctx)
	if err != nil {
		return classify(fmt.Errorf("check replies: %w", err))
	}
	if sum.Failed > 0 {
		h.logger.Warn("Some replies failed to process", "failed", sum.Failed, "stored", sum.Stored)
	}
	return nil
}
