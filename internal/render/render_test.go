package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	vars := Vars{"contact_name": "Ana", "days_until_expiry": "30", "company_name": "Bar & Grill"}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"substitutes known variables", "Hi {{contact_name}}, {{days_until_expiry}} days left", "Hi Ana, 30 days left"},
		{"tolerates inner whitespace", "Hi {{ contact_name }}", "Hi Ana"},
		{"missing variable renders empty", "Hi {{nickname}}!", "Hi !"},
		{"repeated variable", "{{contact_name}} {{contact_name}}", "Ana Ana"},
		{"no placeholders", "Plain subject", "Plain subject"},
		{"single braces untouched", "{contact_name}", "{contact_name}"},
		{"values are not escaped", "{{company_name}}", "Bar & Grill"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, vars))
		})
	}
}

func TestRenderHTML_EscapesValues(t *testing.T) {
	got := RenderHTML("<p>{{company_name}}</p>", Vars{"company_name": "Bar & <Grill>"})
	assert.Equal(t, "<p>Bar &amp; &lt;Grill&gt;</p>", got)
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{a}} {{ b }} {{a}} {{c.d}}")
	assert.Equal(t, []string{"a", "b", "c.d"}, got)
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "paragraphs become lines",
			html: "<p>Hello <b>Ana</b></p><p>Bye</p>",
			want: "Hello Ana\nBye",
		},
		{
			name: "br becomes newline",
			html: "Line one<br>Line two<br/>Line three<BR />",
			want: "Line one\nLine two\nLine three",
		},
		{
			name: "list items become bullets",
			html: "<ul><li>Zones</li><li class=\"x\">Playlists</li></ul>",
			want: "• Zones\n• Playlists",
		},
		{
			name: "entities are decoded",
			html: "<p>Tom &amp; Jerry&nbsp;&lt;3</p>",
			want: "Tom & Jerry <3",
		},
		{
			name: "whitespace is collapsed",
			html: "<div>  lots   of\t space  </div>\n\n\n\n<p>next</p>",
			want: "lots of space\n\nnext",
		},
		{
			name: "style blocks are dropped",
			html: "<style>p { color: red; }</style><p>Visible</p>",
			want: "Visible",
		},
		{
			name: "quoted angle bracket in attribute",
			html: `<p>See <a href="https://x.example/" title="a > b">our plans</a></p>`,
			want: "See our plans",
		},
		{
			name: "comments are dropped",
			html: "<p>Hi<!-- note: x > y --> there</p>",
			want: "Hi there",
		},
		{
			name: "unterminated tag is dropped",
			html: `<p>Hi</p><img src="x"`,
			want: "Hi",
		},
		{
			name: "doctype and head are dropped",
			html: "<!DOCTYPE html><html><head><title>Renewal</title></head><body><p>Body</p></body></html>",
			want: "Body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTMLToText(tt.html))
		})
	}
}

func TestHTMLToText_NoMarkupLeaks(t *testing.T) {
	inputs := []string{
		`<p class="a>b">One</p><p data-x='>'>Two</p>`,
		"<div><!-- <b>hidden</b> -->Three<!--unclosed",
		"<ul><li>Four<li>Five</ul><br",
		"<script>if (a > b) { x('<p>') }</script>Six",
		"<p>Seven</p><a href='x' title=\"y",
	}
	for _, in := range inputs {
		got := HTMLToText(in)
		assert.NotContains(t, got, "<", "input %q", in)
		assert.NotContains(t, got, ">", "input %q", in)
	}
}

func TestHTMLToText_KeepsTextAngles(t *testing.T) {
	assert.Equal(t, "a < b and c > d", HTMLToText("<p>a &lt; b and c &gt; d</p>"))
}

func TestTextToHTML(t *testing.T) {
	assert.Equal(t, "<p>Hi Ana,<br>thanks.</p>\n<p>Bye &amp; see you</p>\n",
		TextToHTML("Hi Ana,\nthanks.\n\nBye & see you"))

	already := "<p>Already HTML</p>"
	assert.Equal(t, already, TextToHTML(already))
}

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"keeps whitelisted tags", "<p><strong>Hi</strong></p>", "<p><strong>Hi</strong></p>"},
		{"strips attributes", `<p style="color:red" onclick="x()">Hi</p>`, "<p>Hi</p>"},
		{"drops unknown tags but keeps text", "<table><tr><td>Cell</td></tr></table>", "Cell"},
		{"removes scripts with content", "<p>a</p><script>alert(1)</script>", "<p>a</p>"},
		{"keeps safe link", `<a href="https://example.com/x?a=1" target="_blank">link</a>`, `<a href="https://example.com/x?a=1">link</a>`},
		{"drops javascript href", `<a href="javascript:alert(1)">x</a>`, "<a>x</a>"},
		{"normalizes br", "a<BR/>b", "a<br>b"},
		{"quoted angle bracket in attribute", `<p title="a > b" onclick="x()">Hi</p>`, "<p>Hi</p>"},
		{"drops comments", "<!-- <script>x()</script> --><p>a</p>", "<p>a</p>"},
		{"drops unterminated tag", `<p>a</p><img src=x onerror="alert(1)"`, "<p>a</p>"},
		{"escapes text", "<p>Tom &lt;3 &amp; co</p>", "<p>Tom &lt;3 &amp; co</p>"},
		{"unsafe href behind quoted bracket", `<a title="x > y" href="javascript:alert(1)">x</a>`, "<a>x</a>"},
		{"drops iframe with content", `<p>a</p><iframe src="https://evil.example">b</iframe>`, "<p>a</p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeHTML(tt.in))
		})
	}
}
