package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
			RequestTimeout: 5 * time.Second,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func textResponse(w http.ResponseWriter, text string) {
	_ = json.NewEncoder(w).Encode(apiResponse{
		Content: []apiContent{{Type: "text", Text: text}},
		Usage:   apiUsage{InputTokens: 120, OutputTokens: 40},
	})
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{}, slog.Default())
	assert.ErrorIs(t, err, ai.EAINotConfigured)
}

func TestGenerateDraft(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Contains(t, req.System, "JSON")
		assert.Contains(t, req.Messages[0].Content[0].Text, "Cafe Noord")

		textResponse(w, "```json\n{\"subject\": \"Music for Cafe Noord\", \"body_html\": \"<p>Hi Ana</p>\"}\n```")
	})

	draft, err := p.GenerateDraft(context.Background(), ai.DraftParams{
		SequenceName: "New opportunity", StepOrdinal: 1, StepCount: 3,
		ContactName: "Ana", CompanyName: "Cafe Noord",
	})
	require.NoError(t, err)
	assert.Equal(t, "Music for Cafe Noord", draft.Subject)
	assert.Equal(t, "<p>Hi Ana</p>", draft.Body)
	assert.Equal(t, 120, draft.Usage.InputTokens)
}

func TestClassifyReply(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(w, `{"classification": "Question", "confidence": 0.84}`)
	})

	res, err := p.ClassifyReply(context.Background(), ai.ClassifyParams{Subject: "Re: music", Body: "Does it work with Sonos?"})
	require.NoError(t, err)
	assert.Equal(t, "question", res.Label)
	assert.InDelta(t, 0.84, res.Confidence, 1e-9)
}

func TestRetryOnOverload(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(529)
			return
		}
		textResponse(w, `{"classification": "interested", "confidence": 0.9}`)
	})

	res, err := p.ClassifyReply(context.Background(), ai.ClassifyParams{Body: "yes please"})
	require.NoError(t, err)
	assert.Equal(t, "interested", res.Label)
	assert.Equal(t, int32(3), calls.Load())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
		calls  int32
	}{
		{"unauthorized is not retried", http.StatusUnauthorized, ai.EAIUnauthorized, 1},
		{"rate limit retried to exhaustion", http.StatusTooManyRequests, ai.EAIRateLimit, 3},
		{"server error is unavailable", http.StatusServiceUnavailable, ai.EAIUnavailable, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"x","message":"nope"}}`))
			})
			_, err := p.GenerateDraft(context.Background(), ai.DraftParams{})
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ai.IsUnavailable(err))
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestInvalidDraftJSON(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(w, "I'd be happy to help!")
	})
	_, err := p.GenerateDraft(context.Background(), ai.DraftParams{})
	assert.ErrorIs(t, err, ai.EAIInvalidResponse)
	assert.False(t, ai.IsUnavailable(err))
}
