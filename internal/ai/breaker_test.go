package ai_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreaker_OpensOnUnavailability(t *testing.T) {
	m := mock.New(nil)
	m.ClassifyError = ai.EAIUnavailable
	b := ai.NewBreaker(m, ai.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, quietLogger())

	for i := 0; i < 2; i++ {
		_, err := b.ClassifyReply(context.Background(), ai.ClassifyParams{})
		assert.ErrorIs(t, err, ai.EAIUnavailable)
	}
	require.True(t, b.Open())

	_, err := b.ClassifyReply(context.Background(), ai.ClassifyParams{})
	assert.ErrorIs(t, err, ai.EAIUnavailable)
	_, classify := m.Calls()
	assert.Equal(t, 2, classify, "open circuit must not reach the provider")
}

func TestBreaker_InvalidResponseDoesNotTrip(t *testing.T) {
	m := mock.New(nil)
	m.DraftError = ai.EAIInvalidResponse
	b := ai.NewBreaker(m, ai.BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := b.GenerateDraft(context.Background(), ai.DraftParams{})
		assert.ErrorIs(t, err, ai.EAIInvalidResponse)
	}
	assert.False(t, b.Open())
}

func TestBreaker_PassesResults(t *testing.T) {
	m := mock.New(nil)
	m.ClassifyResponse = &ai.ClassifyResult{Label: "interested", Confidence: 0.9}
	b := ai.NewBreaker(m, ai.BreakerConfig{}, quietLogger())

	res, err := b.ClassifyReply(context.Background(), ai.ClassifyParams{})
	require.NoError(t, err)
	assert.Equal(t, "interested", res.Label)
	assert.Equal(t, "mock", b.Name())
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ai.EAIRateLimit, true},
		{ai.EAITimeout, true},
		{ai.WrapError("x", ai.EAIUnavailable), true},
		{ai.EAINotConfigured, true},
		{ai.EAIUnauthorized, true},
		{ai.EAIInvalidResponse, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ai.IsUnavailable(tt.err), tt.err.Error())
	}
}

func TestDisabled(t *testing.T) {
	var p ai.Provider = ai.Disabled{}
	_, err := p.GenerateDraft(context.Background(), ai.DraftParams{})
	assert.ErrorIs(t, err, ai.EAINotConfigured)
	assert.Equal(t, "none", p.Name())
}
