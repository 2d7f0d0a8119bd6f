package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectVariant(t *testing.T) {
	base := Variant{Subject: "Your contract", Body: "Hello"}
	translations := map[string]Variant{
		"nl": {Subject: "Uw contract", Body: "Hallo"},
		"de": {Subject: "Ihr Vertrag", Body: "Guten Tag"},
	}

	tests := []struct {
		name       string
		preference string
		want       Variant
	}{
		{"exact language", "nl", translations["nl"]},
		{"regional preference", "de-AT", translations["de"]},
		{"unmatched language falls back", "ja", base},
		{"empty preference", "", base},
		{"garbage preference", "not a tag!!", base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectVariant(base, translations, tt.preference))
		})
	}

	assert.Equal(t, base, SelectVariant(base, nil, "nl"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ana Silva", DisplayName("ana silva", "en"))
	assert.Equal(t, "Ana Silva", DisplayName("ANA  SILVA", "en"))
	assert.Equal(t, "McDonald", DisplayName("McDonald", "en"))
	assert.Equal(t, "", DisplayName("   ", "en"))
}

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Ana", FirstName("Ana Silva"))
	assert.Equal(t, "", FirstName(""))
}

func TestFormatMoney(t *testing.T) {
	en := FormatMoney(123450, "EUR", "en")
	assert.Contains(t, en, "234.50")

	nl := FormatMoney(123450, "EUR", "nl")
	assert.Contains(t, nl, "234,50")

	unknown := FormatMoney(500, "XXZ", "en")
	assert.Contains(t, unknown, "5.00")
}
