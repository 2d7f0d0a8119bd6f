package reply

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/metrics"
)

// Classification is the label assigned to a reply and how it was decided.
type Classification struct {
	Label       domain.Classification
	Confidence  float64
	Method      domain.ClassificationMethod
	NeedsReview bool
}

type rule struct {
	label      domain.Classification
	confidence float64
	patterns   []*regexp.Regexp
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Rules run in order; the first hit wins.
var rules = []rule{
	{
		label:      domain.ClassBounce,
		confidence: 0.95,
		patterns: patterns(
			`delivery (status notification|has failed|failed|failure)`,
			`undeliver(able|ed)`,
			`mail delivery (failed|subsystem)`,
			`returned mail`,
			`failure notice`,
			`user unknown`,
			`(mailbox|recipient address) (unavailable|rejected|not found)`,
			`address not found`,
			`could not be delivered`,
			`unzustellbar`,
			`onbestelbaar`,
		),
	},
	{
		label:      domain.ClassOutOfOffice,
		confidence: 0.95,
		patterns: patterns(
			`out of (the )?office`,
			`automatic reply`,
			`auto[- ]?reply`,
			`autoreply`,
			`away from (the )?office`,
			`on (annual )?(leave|vacation|holiday)`,
			`automatisch antwoord`,
			`afwezigheid`,
			`automatische antwort`,
			`abwesenheitsnotiz`,
			`r[ée]ponse automatique`,
		),
	},
	{
		label:      domain.ClassUnsubscribe,
		confidence: 0.92,
		patterns: patterns(
			`\bunsubscribe\b`,
			`remove me from`,
			`take me off`,
			`stop (e-?mailing|sending|contacting) me`,
			`opt[- ]?out`,
			`no (more|further) e-?mails`,
			`\bafmelden\b`,
			`\babmelden\b`,
		),
	},
	{
		label:      domain.ClassMeetingRequest,
		confidence: 0.90,
		patterns: patterns(
			`let(['’]?s| us) meet`,
			`(schedule|set up|book|arrange|plan) (a |an )?(call|meeting|demo|appointment)`,
			`(available|free) (for|to) (a )?(call|meeting|chat)`,
			`meet (next|on|this) `,
			`calendly\.com`,
			`send (me )?(a |an )?(calendar )?invite`,
		),
	},
}

// Classifier labels replies with pattern rules, falling back to the AI
// provider for texts no rule recognises.
type Classifier struct {
	provider ai.Provider
	logger   *slog.Logger
}

// NewClassifier creates a Classifier. A nil provider disables the AI
// fallback.
func NewClassifier(provider ai.Provider, logger *slog.Logger) *Classifier {
	if provider == nil {
		provider = ai.Disabled{}
	}
	return &Classifier{provider: provider, logger: logger}
}

// Classify labels one reply. It never fails: provider errors degrade to
// unclassified with method none.
func (c *Classifier) Classify(ctx context.Context, from, subject, body string) Classification {
	own := StripQuoted(body)

	if res, ok := matchRules(subject, own); ok {
		return res
	}

	out, err := c.provider.ClassifyReply(ctx, ai.ClassifyParams{From: from, Subject: subject, Body: own})
	var in, outTokens int
	if out != nil {
		in, outTokens = out.Usage.InputTokens, out.Usage.OutputTokens
	}
	metrics.AICall(c.provider.Name(), "classify", err, in, outTokens)
	if err != nil {
		c.logger.Warn("AI classification failed", "from", from, "error", err)
		return unclassified()
	}

	label := domain.Classification(out.Label)
	if !label.IsValid() || label == domain.ClassUnclassified {
		c.logger.Warn("AI returned unknown classification", "from", from, "label", out.Label)
		return unclassified()
	}
	return Classification{
		Label:       label,
		Confidence:  out.Confidence,
		Method:      domain.MethodAI,
		NeedsReview: domain.NeedsReview(out.Confidence),
	}
}

func matchRules(subject, body string) (Classification, bool) {
	for _, r := range rules {
		if hit(r.patterns, subject) || hit(r.patterns, body) {
			return Classification{
				Label:       r.label,
				Confidence:  r.confidence,
				Method:      domain.MethodRule,
				NeedsReview: domain.NeedsReview(r.confidence),
			}, true
		}
	}
	return Classification{}, false
}

func hit(ps []*regexp.Regexp, s string) bool {
	if s == "" {
		return false
	}
	for _, p := range ps {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func unclassified() Classification {
	return Classification{
		Label:       domain.ClassUnclassified,
		Confidence:  0,
		Method:      domain.MethodNone,
		NeedsReview: true,
	}
}

var quoteMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*on\b.*\bwrote:\s*$`),
	regexp.MustCompile(`(?i)^\s*op\b.*\bschreef.*:\s*$`),
	regexp.MustCompile(`(?i)^\s*am\b.*\bschrieb.*:\s*$`),
	regexp.MustCompile(`(?i)^\s*-{2,}\s*original message\s*-{2,}\s*$`),
	regexp.MustCompile(`(?i)^\s*-{2,}\s*(oorspronkelijk|urspr[üu]ngliche) (bericht|nachricht)\s*-{2,}\s*$`),
	regexp.MustCompile(`(?i)^\s*_{10,}\s*$`),
}

// StripQuoted returns the part of a reply body the sender wrote: quoted
// lines starting with ">" are dropped and everything from the first
// "On ... wrote:" or "Original Message" marker on is cut.
func StripQuoted(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
scan:
	for _, line := range lines {
		for _, m := range quoteMarkers {
			if m.MatchString(line) {
				break scan
			}
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
