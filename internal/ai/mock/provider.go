// Package mock provides a scriptable ai.Provider for tests and local runs.
package mock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	DraftResponse    *ai.Draft
	DraftError       error
	ClassifyResponse *ai.ClassifyResult
	ClassifyError    error

	// Call tracking for testing
	DraftCalls    int
	ClassifyCalls int
	LastDraft     ai.DraftParams
	LastClassify  ai.ClassifyParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{logger: logger}
}

// Name implements ai.Provider.
func (p *Provider) Name() string { return "mock" }

// GenerateDraft returns the configured draft, or a canned one addressed to
// the contact.
func (p *Provider) GenerateDraft(ctx context.Context, params ai.DraftParams) (*ai.Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DraftCalls++
	p.LastDraft = params

	if p.DraftError != nil {
		return nil, p.DraftError
	}
	if p.DraftResponse != nil {
		d := *p.DraftResponse
		return &d, nil
	}

	if p.logger != nil {
		p.logger.Debug("mock AI draft", "company", params.CompanyName, "step", params.StepOrdinal)
	}
	return &ai.Draft{
		Subject: "Music for " + params.CompanyName,
		Body:    "<p>Hi " + params.ContactName + ",</p><p>Following up on our conversation.</p>",
		Usage:   ai.UsageInfo{Model: "mock", InputTokens: 100, OutputTokens: 50, Duration: time.Millisecond},
	}, nil
}

// ClassifyReply returns the configured result, or "unclassified" with zero
// confidence.
func (p *Provider) ClassifyReply(ctx context.Context, params ai.ClassifyParams) (*ai.ClassifyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClassifyCalls++
	p.LastClassify = params

	if p.ClassifyError != nil {
		return nil, p.ClassifyError
	}
	if p.ClassifyResponse != nil {
		r := *p.ClassifyResponse
		return &r, nil
	}
	return &ai.ClassifyResult{Label: "unclassified", Usage: ai.UsageInfo{Model: "mock"}}, nil
}

// Reset clears all configured responses and call counts
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DraftResponse = nil
	p.DraftError = nil
	p.ClassifyResponse = nil
	p.ClassifyError = nil
	p.DraftCalls = 0
	p.ClassifyCalls = 0
	p.LastDraft = ai.DraftParams{}
	p.LastClassify = ai.ClassifyParams{}
}

// Calls returns the draft and classify call counts.
func (p *Provider) Calls() (draft, classify int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DraftCalls, p.ClassifyCalls
}

var _ ai.Provider = (*Provider)(nil)
