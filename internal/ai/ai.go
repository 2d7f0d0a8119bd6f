// Package ai defines the language-model collaborator used to draft prospect
// emails and to classify replies that no pattern rule recognises.
//
// Every call site treats the provider as optional: drafting falls back to
// the step template and classification degrades to "unclassified".
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider drafts outbound email and classifies inbound replies.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// GenerateDraft writes a subject and HTML body for one prospect step.
	GenerateDraft(ctx context.Context, params DraftParams) (*Draft, error)

	// ClassifyReply assigns one of the reply labels to an inbound message.
	ClassifyReply(ctx context.Context, params ClassifyParams) (*ClassifyResult, error)
}

// DraftParams contains what the model knows about the recipient and step.
type DraftParams struct {
	Instructions string            // step-level prompt override
	SequenceName string            // e.g. "New opportunity cadence"
	StepOrdinal  int               // 1-based position in the cadence
	StepCount    int               // total steps in the cadence
	ContactName  string            // display name of the recipient
	CompanyName  string            // recipient company
	Language     string            // BCP-47 preference, may be empty
	TemplateHint string            // the step template, as tone guidance
	Facts        map[string]string // rendered template variables
}

// Draft is a generated email awaiting human approval.
type Draft struct {
	Subject string
	Body    string // HTML
	Usage   UsageInfo
}

// ClassifyParams contains the inbound message to classify. Body has quoted
// text already removed.
type ClassifyParams struct {
	From    string
	Subject string
	Body    string
}

// ClassifyResult is the model's label and its own confidence in [0,1].
type ClassifyResult struct {
	Label      string
	Confidence float64
	Usage      UsageInfo
}

// UsageInfo tracks API usage for monitoring.
type UsageInfo struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// WithDefaults fills zero fields with the standard values.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAINotConfigured indicates no provider is configured
	EAINotConfigured = errors.New("ai provider not configured")

	// EAIInvalidResponse indicates the model answered with something that
	// could not be parsed
	EAIInvalidResponse = errors.New("ai provider returned an invalid response")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// IsUnavailable reports whether the caller should take its fallback path
// rather than record a hard failure.
func IsUnavailable(err error) bool {
	return IsRetryable(err) || errors.Is(err, EAINotConfigured) || errors.Is(err, EAIUnauthorized)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// Disabled is the Provider used when AI_PROVIDER is "none". Every call
// reports EAINotConfigured.
type Disabled struct{}

// Name implements Provider.
func (Disabled) Name() string { return "none" }

// GenerateDraft implements Provider.
func (Disabled) GenerateDraft(context.Context, DraftParams) (*Draft, error) {
	return nil, EAINotConfigured
}

// ClassifyReply implements Provider.
func (Disabled) ClassifyReply(context.Context, ClassifyParams) (*ClassifyResult, error) {
	return nil, EAINotConfigured
}
