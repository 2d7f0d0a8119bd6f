// Package openai implements ai.Provider on the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string // optional, for compatible gateways and tests
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider with go-openai.
type Provider struct {
	client *goopenai.Client
	model  string
	cfg    ai.ProviderConfig
	logger *slog.Logger
}

// New creates an OpenAI provider.
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required: %w", ai.EAINotConfigured)
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	clientCfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	pc := config.ProviderConfig.WithDefaults()
	clientCfg.HTTPClient = &http.Client{Timeout: pc.RequestTimeout}

	return &Provider{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  config.Model,
		cfg:    pc,
		logger: logger,
	}, nil
}

// Name implements ai.Provider.
func (p *Provider) Name() string { return "openai" }

// GenerateDraft implements ai.Provider.
func (p *Provider) GenerateDraft(ctx context.Context, params ai.DraftParams) (*ai.Draft, error) {
	start := time.Now()
	resp, err := p.chat(ctx, ai.DraftSystemPrompt, ai.BuildDraftPrompt(params), 1024)
	if err != nil {
		return nil, ai.WrapError("generate draft", err)
	}

	draft, err := ai.ParseDraft(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, ai.WrapError("parse draft", err)
	}
	draft.Usage = p.usage(resp, start)
	return draft, nil
}

// ClassifyReply implements ai.Provider.
func (p *Provider) ClassifyReply(ctx context.Context, params ai.ClassifyParams) (*ai.ClassifyResult, error) {
	start := time.Now()
	resp, err := p.chat(ctx, ai.ClassifySystemPrompt, ai.BuildClassifyPrompt(params), 100)
	if err != nil {
		return nil, ai.WrapError("classify reply", err)
	}

	result, err := ai.ParseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, ai.WrapError("parse classification", err)
	}
	result.Usage = p.usage(resp, start)
	return result, nil
}

func (p *Provider) usage(resp *goopenai.ChatCompletionResponse, start time.Time) ai.UsageInfo {
	return ai.UsageInfo{
		Model:        p.model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}
}

func (p *Provider) chat(ctx context.Context, system, user string, maxTokens int) (*goopenai.ChatCompletionResponse, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: 0.2,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("%w: no choices", ai.EAIInvalidResponse)
			}
			return &resp, nil
		}
		lastErr = mapError(err)

		if !ai.IsRetryable(lastErr) || attempt >= p.cfg.MaxRetries {
			break
		}
		delay := p.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "provider", "openai", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// mapError translates go-openai errors into the ai sentinels.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.EAITimeout
	}

	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ai.EAIUnauthorized
	case status == http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ai.EAITimeout
	case status >= 500:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("openai API error (status %d): %v", status, err)
	}
}

var _ ai.Provider = (*Provider)(nil)
