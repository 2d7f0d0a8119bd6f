// Package drafting produces AI-written prospect emails that wait for human
// approval before they are sent.
package drafting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/render"
)

// Request is everything the generator knows about one prospect step.
type Request struct {
	SequenceName string
	StepOrdinal  int
	StepCount    int
	Prompt       string // step-level instructions
	Template     render.Variant
	ContactName  string
	CompanyName  string
	Language     string
	Vars         render.Vars
}

// Draft is a sanitized generated email with its approval deadline.
type Draft struct {
	Subject   string
	Body      string
	ExpiresAt time.Time
	Model     string
}

// Generator calls the AI provider and shapes its answer into a Draft.
type Generator struct {
	provider ai.Provider
	ttl      time.Duration
	logger   *slog.Logger
}

// NewGenerator creates a Generator. A zero ttl means domain.DefaultDraftTTL.
func NewGenerator(provider ai.Provider, ttl time.Duration, logger *slog.Logger) *Generator {
	if ttl <= 0 {
		ttl = domain.DefaultDraftTTL
	}
	if provider == nil {
		provider = ai.Disabled{}
	}
	return &Generator{provider: provider, ttl: ttl, logger: logger}
}

// TTL returns how long drafts stay approvable.
func (g *Generator) TTL() time.Duration { return g.ttl }

// Generate asks the provider for a draft. The body is reduced to the mail
// tag whitelist. Errors are the provider's; callers decide between the
// template fallback and a failed execution.
func (g *Generator) Generate(ctx context.Context, req Request, now time.Time) (*Draft, error) {
	facts := make(map[string]string, len(req.Vars))
	for k, v := range req.Vars {
		if !strings.HasSuffix(k, "_url") {
			facts[k] = v
		}
	}

	out, err := g.provider.GenerateDraft(ctx, ai.DraftParams{
		Instructions: req.Prompt,
		SequenceName: req.SequenceName,
		StepOrdinal:  req.StepOrdinal,
		StepCount:    req.StepCount,
		ContactName:  req.ContactName,
		CompanyName:  req.CompanyName,
		Language:     req.Language,
		TemplateHint: templateHint(req.Template, req.Vars),
		Facts:        facts,
	})
	if out != nil {
		metrics.AICall(g.provider.Name(), "draft", err, out.Usage.InputTokens, out.Usage.OutputTokens)
	} else {
		metrics.AICall(g.provider.Name(), "draft", err, 0, 0)
	}
	if err != nil {
		return nil, err
	}

	body := render.SanitizeHTML(out.Body)
	if strings.TrimSpace(render.HTMLToText(body)) == "" {
		return nil, ai.WrapError("sanitize draft", ai.EAIInvalidResponse)
	}

	g.logger.Debug("AI draft generated",
		"provider", g.provider.Name(),
		"model", out.Usage.Model,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
		"duration", out.Usage.Duration,
	)
	return &Draft{
		Subject:   strings.TrimSpace(out.Subject),
		Body:      body,
		ExpiresAt: now.Add(g.ttl),
		Model:     out.Usage.Model,
	}, nil
}

func templateHint(v render.Variant, vars render.Vars) string {
	if v.Subject == "" && v.Body == "" {
		return ""
	}
	return "Subject: " + render.Render(v.Subject, vars) + "\n\n" + render.HTMLToText(render.Render(v.Body, vars))
}
