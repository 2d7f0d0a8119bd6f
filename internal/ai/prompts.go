package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// DraftSystemPrompt frames every drafting request.
const DraftSystemPrompt = `You write short, friendly B2B sales emails for a company that provides background music services to shops, restaurants, hotels and gyms. You write as a member of the sales team, never as an AI. Keep emails under 150 words, use plain language, and end with one clear question. Return ONLY a JSON object: {"subject": "...", "body_html": "..."}. The body may use only <p>, <br>, <strong>, <em>, <ul>, <li> and <a>.`

// BuildDraftPrompt renders the user message for a drafting request.
func BuildDraftPrompt(p DraftParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write email %d of %d in the %q cadence.\n", p.StepOrdinal, p.StepCount, p.SequenceName)
	fmt.Fprintf(&b, "Recipient: %s at %s.\n", orUnknown(p.ContactName), orUnknown(p.CompanyName))
	if p.Language != "" {
		fmt.Fprintf(&b, "Write in the language with BCP-47 tag %q.\n", p.Language)
	}

	if len(p.Facts) > 0 {
		b.WriteString("\nKnown facts:\n")
		keys := make([]string, 0, len(p.Facts))
		for k, v := range p.Facts {
			if v != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, p.Facts[k])
		}
	}

	if p.TemplateHint != "" {
		b.WriteString("\nOur standard template for this step, for tone and intent:\n")
		b.WriteString(p.TemplateHint)
		b.WriteString("\n")
	}
	if p.Instructions != "" {
		b.WriteString("\nAdditional instructions:\n")
		b.WriteString(p.Instructions)
		b.WriteString("\n")
	}
	return b.String()
}

// ClassifySystemPrompt frames every classification request.
const ClassifySystemPrompt = `You classify replies to sales and customer emails. Choose exactly one label from: interested, not_interested, question, objection, meeting_request, referral, out_of_office, unsubscribe, bounce, other. Return ONLY a JSON object: {"classification": "<label>", "confidence": <number between 0 and 1>}.

Examples:
"Sounds good, can you send me the pricing?" -> {"classification": "interested", "confidence": 0.9}
"We already have a supplier, thanks." -> {"classification": "not_interested", "confidence": 0.88}
"Does this work with Sonos speakers?" -> {"classification": "question", "confidence": 0.86}
"It's too expensive for a single shop." -> {"classification": "objection", "confidence": 0.82}
"Please talk to our manager Eva, eva@example.com" -> {"classification": "referral", "confidence": 0.9}`

// BuildClassifyPrompt renders the user message for a classification request.
func BuildClassifyPrompt(p ClassifyParams) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", p.From, p.Subject, truncate(p.Body, maxClassifyBody))
}

const maxClassifyBody = 4000

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}

// =============================================================================
// Response parsing
// =============================================================================

type draftOutput struct {
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Body     string `json:"body"`
}

// ParseDraft extracts a draft from the model's text answer.
func ParseDraft(text string) (*Draft, error) {
	var out draftOutput
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", EAIInvalidResponse, err)
	}
	body := out.BodyHTML
	if body == "" {
		body = out.Body
	}
	if strings.TrimSpace(out.Subject) == "" || strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: draft is missing subject or body", EAIInvalidResponse)
	}
	return &Draft{Subject: strings.TrimSpace(out.Subject), Body: body}, nil
}

type classifyOutput struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
}

// ParseClassification extracts a label and confidence from the model's text
// answer. The confidence is clamped to [0,1]; label validation is left to
// the caller.
func ParseClassification(text string) (*ClassifyResult, error) {
	var out classifyOutput
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", EAIInvalidResponse, err)
	}
	conf := out.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return &ClassifyResult{
		Label:      strings.ToLower(strings.TrimSpace(out.Classification)),
		Confidence: conf,
	}, nil
}

// extractJSON returns the outermost {...} in text, tolerating code fences
// and chatter around the object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
