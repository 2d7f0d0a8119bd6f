package ai

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		subject string
		body    string
		wantErr bool
	}{
		{"bare json", `{"subject":"Hi","body_html":"<p>x</p>"}`, "Hi", "<p>x</p>", false},
		{"fenced with chatter", "Here you go:\n```json\n{\"subject\":\" Hi \",\"body\":\"<p>y</p>\"}\n```", "Hi", "<p>y</p>", false},
		{"missing body", `{"subject":"Hi"}`, "", "", true},
		{"not json", "Sure thing!", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDraft(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, EAIInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, d.Subject)
			assert.Equal(t, tt.body, d.Body)
		})
	}
}

func TestParseClassification(t *testing.T) {
	r, err := ParseClassification(`{"classification":" Meeting_Request ","confidence":1.7}`)
	require.NoError(t, err)
	assert.Equal(t, "meeting_request", r.Label)
	assert.Equal(t, 1.0, r.Confidence)

	r, err = ParseClassification(`{"classification":"other","confidence":-2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Confidence)

	_, err = ParseClassification("other")
	assert.ErrorIs(t, err, EAIInvalidResponse)
}

func TestBuildDraftPrompt(t *testing.T) {
	got := BuildDraftPrompt(DraftParams{
		SequenceName: "Stale deal",
		StepOrdinal:  2,
		StepCount:    3,
		CompanyName:  "Gym Zuid",
		Language:     "nl",
		Facts:        map[string]string{"zone_count": "4", "city": "Utrecht", "empty": ""},
		Instructions: "Mention the free trial.",
	})
	assert.Contains(t, got, "email 2 of 3")
	assert.Contains(t, got, "(unknown) at Gym Zuid")
	assert.Contains(t, got, `"nl"`)
	assert.Less(t, strings.Index(got, "- city"), strings.Index(got, "- zone_count"))
	assert.NotContains(t, got, "- empty")
	assert.Contains(t, got, "Mention the free trial.")
}

func TestBuildClassifyPrompt_Truncates(t *testing.T) {
	got := BuildClassifyPrompt(ClassifyParams{From: "a@b.c", Subject: "Re", Body: strings.Repeat("x", 5000)})
	assert.Equal(t, 4000, strings.Count(got, "x"))
}

func TestBuildClassifyPrompt_TruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("x", 3999) + strings.Repeat("ü", 10)
	got := BuildClassifyPrompt(ClassifyParams{From: "a@b.c", Subject: "Re", Body: body})
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 3999, strings.Count(got, "x"))
	assert.Zero(t, strings.Count(got, "ü"))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short string unchanged", "héllo", 10, "héllo"},
		{"cut on ascii", "hello", 3, "hel"},
		{"backs off a split rune", "aé", 2, "a"},
		{"keeps a whole rune", "aé", 3, "aé"},
		{"four byte rune", "a😀b", 4, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
