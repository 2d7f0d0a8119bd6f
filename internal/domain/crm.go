package domain

// =============================================================================
// CRM read model vocabulary
// =============================================================================
//
// The CRM owns these records. The automation engine reads them and performs
// a handful of narrow writes (tasks, opt-out, opportunity stage).

// ContractStatus mirrors the CRM contract status column.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "Active"
	ContractStatusPending   ContractStatus = "Pending"
	ContractStatusExpired   ContractStatus = "Expired"
	ContractStatusCancelled ContractStatus = "Cancelled"
)

// InvoiceStatus mirrors the CRM invoice status column.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusSent      InvoiceStatus = "Sent"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

// IsOutstanding reports whether payment reminders apply.
func (s InvoiceStatus) IsOutstanding() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusOverdue
}

// OpportunityStage mirrors the CRM pipeline stages.
type OpportunityStage string

const (
	StageNew           OpportunityStage = "New"
	StageContacted     OpportunityStage = "Contacted"
	StageQuotationSent OpportunityStage = "Quotation Sent"
	StageNegotiation   OpportunityStage = "Negotiation"
	StageWon           OpportunityStage = "Won"
	StageLost          OpportunityStage = "Lost"
)

// IsOpen reports whether the opportunity is still in the pipeline.
func (s OpportunityStage) IsOpen() bool {
	return s != StageWon && s != StageLost
}

// IsValid returns true if the stage is a recognized value.
func (s OpportunityStage) IsValid() bool {
	switch s {
	case StageNew, StageContacted, StageQuotationSent, StageNegotiation, StageWon, StageLost:
		return true
	}
	return false
}

// QuoteStatus mirrors the CRM quote status column.
type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "Draft"
	QuoteStatusSent     QuoteStatus = "Sent"
	QuoteStatusAccepted QuoteStatus = "Accepted"
	QuoteStatusDeclined QuoteStatus = "Declined"
)

// PreferenceCategory names a per-category contact email preference.
type PreferenceCategory string

const (
	PreferenceRenewal   PreferenceCategory = "renewal"
	PreferencePayment   PreferenceCategory = "payment"
	PreferenceQuarterly PreferenceCategory = "quarterly"
	PreferenceSeasonal  PreferenceCategory = "seasonal"
	PreferenceSales     PreferenceCategory = "sales"
)

// PreferenceFor maps a sequence type to the contact preference that gates it.
func PreferenceFor(t SequenceType) PreferenceCategory {
	switch t {
	case SequenceTypeRenewal:
		return PreferenceRenewal
	case SequenceTypePayment:
		return PreferencePayment
	case SequenceTypeQuarterly:
		return PreferenceQuarterly
	case SequenceTypeProspect:
		return PreferenceSales
	}
	return PreferenceSeasonal
}

// TaskSource tags tasks created by the engine.
const TaskSource = "email_automation"
