package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker around a provider.
type BreakerConfig struct {
	// ConsecutiveFailures opens the circuit.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
}

// Breaker wraps a Provider so that a run of outages short-circuits to
// EAIUnavailable instead of waiting on every call. Only unavailability
// counts as a failure; a bad answer from a healthy model does not.
type Breaker struct {
	next   Provider
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewBreaker wraps next.
func NewBreaker(next Provider, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 2 * time.Minute
	}

	b := &Breaker{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-" + next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("AI circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return b
}

// Name implements Provider.
func (b *Breaker) Name() string { return b.next.Name() }

// Open reports whether calls are currently short-circuited.
func (b *Breaker) Open() bool { return b.cb.State() == gobreaker.StateOpen }

// GenerateDraft implements Provider.
func (b *Breaker) GenerateDraft(ctx context.Context, params DraftParams) (*Draft, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.GenerateDraft(ctx, params)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return res.(*Draft), nil
}

// ClassifyReply implements Provider.
func (b *Breaker) ClassifyReply(ctx context.Context, params ClassifyParams) (*ClassifyResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ClassifyReply(ctx, params)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return res.(*ClassifyResult), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return WrapError("circuit open", EAIUnavailable)
	}
	return err
}
