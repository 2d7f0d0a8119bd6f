// Package render substitutes template variables into email subjects and
// bodies and derives the plain-text alternative from the HTML body.
package render

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Vars maps template variable names to values.
type Vars map[string]string

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render replaces every {{name}} in tmpl with vars[name]. Unknown names render
// as the empty string.
func Render(tmpl string, vars Vars) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

// RenderHTML is Render for HTML templates: substituted values are escaped.
func RenderHTML(tmpl string, vars Vars) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return html.EscapeString(vars[key])
	})
}

// Placeholders lists the distinct variable names used in tmpl, in order of
// first appearance.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

var (
	spacePattern    = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// skippedBlocks are elements whose content never reaches the text part.
var skippedBlocks = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
}

// HTMLToText converts an HTML body into its plain-text alternative: <br> and
// </p> become newlines, list items become bullets, all other markup
// (tags, comments, doctypes, unterminated tags) is removed, entities are
// decoded and whitespace is collapsed.
func HTMLToText(s string) string {
	var b strings.Builder
	skip := 0

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapse(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case skippedBlocks[a]:
				if tt == html.StartTagToken {
					skip++
				}
			case a == atom.Br:
				b.WriteString("\n")
			case a == atom.Li:
				b.WriteString("\n• ")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case skippedBlocks[a]:
				if skip > 0 {
					skip--
				}
			case a == atom.P:
				b.WriteString("\n")
			}
		}
	}
}

func collapse(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// hasMarkup reports whether s contains at least one tag.
func hasMarkup(s string) bool {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			return true
		}
	}
}

// TextToHTML turns a plain-text body into simple paragraphs. Bodies that
// already contain markup are returned unchanged.
func TextToHTML(s string) string {
	if hasMarkup(s) {
		return s
	}
	paras := strings.Split(strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}
