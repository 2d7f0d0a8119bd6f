package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
)

func TestRecipientVars(t *testing.T) {
	ct := repository.Contract{
		ID:                uuid.New(),
		Number:            "C-100200",
		StartDate:         date(2024, 4, 3),
		EndDate:           date(2025, 4, 3),
		MonthlyValueCents: 12500,
		Currency:          "EUR",
		ZoneCount:         3,
	}
	inv := repository.Invoice{
		ID:          uuid.New(),
		Number:      "INV-7",
		AmountCents: 9900,
		Currency:    "EUR",
		DueDate:     date(2025, 2, 20),
	}
	r := recipient{
		contact: repository.Contact{FirstName: "anna", LastName: "de vries", Email: "anna@example.nl", Language: "en"},
		company: repository.Company{Name: "Bakkerij Jansen"},
		entity:  entity{contract: &ct, invoice: &inv, quarter: 2},
		facts: map[string]string{
			"contract_number": "stale",
			"holiday_date":    "2025-12-25",
			"custom_fact":     "kept",
		},
	}

	v := r.vars(t0, t0.Location(), "https://cadence.example/unsubscribe?token=x")

	assert.Equal(t, "Bakkerij Jansen", v["company_name"])
	assert.Equal(t, "anna@example.nl", v["contact_email"])
	assert.Equal(t, "C-100200", v["contract_number"], "live records override stored facts")
	assert.Equal(t, "kept", v["custom_fact"])
	assert.Equal(t, "30", v["days_until_expiry"])
	assert.Equal(t, "3", v["zone_count"])
	assert.Equal(t, "12", v["days_overdue"])
	assert.Equal(t, "INV-7", v["invoice_number"])
	assert.Equal(t, "2", v["quarter_number"])
	assert.Equal(t, "2025", v["current_year"])
	assert.Equal(t, render.FormatDate(date(2025, 12, 25)), v["holiday_date"])
	assert.Equal(t, "https://cadence.example/unsubscribe?token=x", v["unsubscribe_url"])
	assert.NotEmpty(t, v["contact_name"])
	assert.NotEmpty(t, v["contract_value"])
}

func TestRecipientVars_NotYetDueInvoice(t *testing.T) {
	inv := repository.Invoice{Number: "INV-8", DueDate: date(2025, 3, 10), Currency: "EUR"}
	v := recipient{entity: entity{invoice: &inv}}.vars(t0, t0.Location(), "")
	assert.Equal(t, "0", v["days_overdue"])
	_, ok := v["unsubscribe_url"]
	assert.False(t, ok)
}

func TestVariant(t *testing.T) {
	raw, err := json.Marshal(map[string]render.Variant{
		"nl": {Subject: "Uw contract", Body: "Beste klant"},
	})
	assert.NoError(t, err)
	step := repository.SequenceStep{
		SubjectTemplate: "Your contract",
		BodyTemplate:    "Dear customer",
		Translations:    pqtype.NullRawMessage{RawMessage: raw, Valid: true},
	}

	tests := []struct {
		language    string
		wantSubject string
	}{
		{"nl", "Uw contract"},
		{"nl-BE", "Uw contract"},
		{"en", "Your contract"},
		{"", "Your contract"},
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			assert.Equal(t, tt.wantSubject, variant(step, tt.language).Subject)
		})
	}
}

func TestDocumentKey(t *testing.T) {
	key := repository.NullString
	tests := []struct {
		name string
		ent  entity
		want string
	}{
		{"none", entity{}, ""},
		{"contract", entity{contract: &repository.Contract{DocumentKey: key("contracts/c.pdf")}}, "contracts/c.pdf"},
		{"invoice wins", entity{
			contract: &repository.Contract{DocumentKey: key("contracts/c.pdf")},
			invoice:  &repository.Invoice{DocumentKey: key("invoices/i.pdf")},
		}, "invoices/i.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ent.documentKey())
		})
	}
}
