// Package jobs holds the worker handlers for the engine's entry points. Each
// handler decodes its payload, runs one pass of the matching pipeline and
// reports what it did.
package jobs

import (
	"context"
	"errors"

	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/worker"
)

// classify marks errors that a retry cannot fix as permanent. Cancellation
// and timeouts are left retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if domain.ErrorCode(err) == domain.EINVALID {
		return worker.NewPermanentError(err)
	}
	return err
}
