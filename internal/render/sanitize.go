package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var allowedTags = map[atom.Atom]bool{
	atom.A: true, atom.B: true, atom.Blockquote: true, atom.Br: true, atom.Div: true,
	atom.Em: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.I: true, atom.Li: true,
	atom.Ol: true, atom.P: true, atom.Span: true, atom.Strong: true, atom.U: true, atom.Ul: true,
}

// droppedBlocks lose their content as well as their tags.
var droppedBlocks = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
	atom.Iframe: true,
	atom.Object: true,
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// SanitizeHTML keeps a small whitelist of formatting tags and drops
// everything else. Attributes are removed except an http(s) or mailto href
// on links. Script and style blocks are removed with their content, as are
// comments and unterminated tags.
func SanitizeHTML(s string) string {
	var b strings.Builder
	skip := 0

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.WriteString(textEscaper.Replace(string(z.Text())))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if droppedBlocks[a] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if skip > 0 || !allowedTags[a] {
				continue
			}
			switch a {
			case atom.A:
				if href := safeHref(z, hasAttr); href != "" {
					b.WriteString(`<a href="` + html.EscapeString(href) + `">`)
				} else {
					b.WriteString("<a>")
				}
			default:
				b.WriteString("<" + a.String() + ">")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if droppedBlocks[a] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip > 0 || !allowedTags[a] || a == atom.Br {
				continue
			}
			b.WriteString("</" + a.String() + ">")
		}
	}
}

// safeHref returns the tag's href when it is an http(s) or mailto URL.
func safeHref(z *html.Tokenizer, hasAttr bool) string {
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if string(key) != "href" {
			continue
		}
		href := strings.TrimSpace(string(val))
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") ||
			strings.HasPrefix(lower, "mailto:") {
			return href
		}
		return ""
	}
	return ""
}
