package render

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Variant is one language version of a step's subject and body.
type Variant struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SelectVariant picks the translation that best matches the contact's
// language preference. The base variant is used when there are no
// translations, the preference is empty or unparseable, or nothing matches
// with at least low confidence.
func SelectVariant(base Variant, translations map[string]Variant, preference string) Variant {
	if len(translations) == 0 || strings.TrimSpace(preference) == "" {
		return base
	}
	want, err := language.Parse(preference)
	if err != nil {
		return base
	}

	var tags []language.Tag
	var variants []Variant
	for code, v := range translations {
		tag, err := language.Parse(code)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		variants = append(variants, v)
	}

	if len(tags) == 0 {
		return base
	}
	_, idx, conf := language.NewMatcher(tags).Match(want)
	if conf == language.No {
		return base
	}
	return variants[idx]
}

// Tag parses a language preference, defaulting to English.
func Tag(preference string) language.Tag {
	tag, err := language.Parse(preference)
	if err != nil || preference == "" {
		return language.English
	}
	return tag
}

// FormatMoney renders an amount in minor units with the currency symbol and
// the number formatting of the contact's language.
func FormatMoney(minor int64, currencyCode, preference string) string {
	tag := Tag(preference)
	p := message.NewPrinter(tag)
	amount := p.Sprintf("%.2f", float64(minor)/100)

	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return strings.TrimSpace(currencyCode + " " + amount)
	}
	return p.Sprintf("%v", currency.Symbol(unit)) + amount
}

// FormatDate renders a calendar date such as "15 October 2025".
func FormatDate(t time.Time) string {
	return t.Format("2 January 2006")
}

// DisplayName cleans up a CRM name for a salutation. Names typed entirely in
// lower or upper case are title-cased for the contact's language; anything
// else is assumed to be deliberate and kept.
func DisplayName(name, preference string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	if name != strings.ToLower(name) && name != strings.ToUpper(name) {
		return name
	}
	return cases.Title(Tag(preference)).String(strings.ToLower(name))
}

// FirstName returns the first word of a display name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Quarter formats a quarter number for subjects ("Q3").
func Quarter(n int) string {
	return fmt.Sprintf("Q%d", n)
}
