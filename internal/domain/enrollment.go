package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Enrollment Status
// =============================================================================

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	// EnrollmentStatusActive enrollments have their next execution eligible
	// for the scheduler.
	EnrollmentStatusActive EnrollmentStatus = "active"

	// EnrollmentStatusPaused enrollments keep their scheduled execution but
	// the scheduler ignores it until the enrollment is resumed.
	EnrollmentStatusPaused EnrollmentStatus = "paused"

	// EnrollmentStatusCompleted enrollments ran out of steps.
	EnrollmentStatusCompleted EnrollmentStatus = "completed"

	// EnrollmentStatusReplied enrollments were stopped by a human reply.
	EnrollmentStatusReplied EnrollmentStatus = "replied"

	// EnrollmentStatusCancelled enrollments were stopped by unsubscribe,
	// bounce or an operator.
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// String returns the string representation of the status.
func (s EnrollmentStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusPaused, EnrollmentStatusCompleted,
		EnrollmentStatusReplied, EnrollmentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo checks if the enrollment can move to the target status.
//
// Valid transitions:
// - active -> paused | completed | replied | cancelled
// - paused -> active | replied | cancelled
// - completed -> replied | cancelled (a late reply still counts)
// - replied -> cancelled (unsubscribe after a reply)
// - cancelled is terminal
func (s EnrollmentStatus) CanTransitionTo(target EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusActive:
		return target == EnrollmentStatusPaused || target == EnrollmentStatusCompleted ||
			target == EnrollmentStatusReplied || target == EnrollmentStatusCancelled
	case EnrollmentStatusPaused:
		return target == EnrollmentStatusActive || target == EnrollmentStatusReplied ||
			target == EnrollmentStatusCancelled
	case EnrollmentStatusCompleted:
		return target == EnrollmentStatusReplied || target == EnrollmentStatusCancelled
	case EnrollmentStatusReplied:
		return target == EnrollmentStatusCancelled
	}
	return false
}

// AcceptsNextStep reports whether a newly scheduled step could ever run for
// an enrollment in this status.
func (s EnrollmentStatus) AcceptsNextStep() bool {
	return s == EnrollmentStatusActive || s == EnrollmentStatusPaused
}

// =============================================================================
// Pause reasons and sources
// =============================================================================

// PauseReason records why an enrollment was paused.
type PauseReason string

const (
	PauseReasonReplyReceived PauseReason = "reply-received"
	PauseReasonOutOfOffice   PauseReason = "out-of-office"
	PauseReasonManual        PauseReason = "manual"
)

// EnrollmentSource records how an enrollment was created.
type EnrollmentSource string

const (
	EnrollmentSourceAutoTrigger EnrollmentSource = "auto_trigger"
	EnrollmentSourceManual      EnrollmentSource = "manual"
)

// =============================================================================
// Trigger entities
// =============================================================================

// TriggerEntityType names the kind of CRM record (or synthetic key) that
// caused an auto-enrollment. Together with the sequence and the entity ID it
// forms the idempotency key of an enrollment.
type TriggerEntityType string

const (
	TriggerEntityContract         TriggerEntityType = "contract"
	TriggerEntityInvoice          TriggerEntityType = "invoice"
	TriggerEntityContractQuarter  TriggerEntityType = "contract_quarter"
	TriggerEntitySeasonal         TriggerEntityType = "seasonal"
	TriggerEntityOpportunity      TriggerEntityType = "opportunity"
	TriggerEntityOpportunityStale TriggerEntityType = "opportunity_stale"
	TriggerEntityQuote            TriggerEntityType = "quote"
)

// String returns the string representation of the type.
func (t TriggerEntityType) String() string {
	return string(t)
}

// TriggerKey identifies the CRM event behind an enrollment.
type TriggerKey struct {
	Type TriggerEntityType
	ID   string
}

// String renders the key for logs.
func (k TriggerKey) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

// ContractKey keys a renewal enrollment.
func ContractKey(contractID uuid.UUID) TriggerKey {
	return TriggerKey{Type: TriggerEntityContract, ID: contractID.String()}
}

// InvoiceKey keys a payment reminder enrollment.
func InvoiceKey(invoiceID uuid.UUID) TriggerKey {
	return TriggerKey{Type: TriggerEntityInvoice, ID: invoiceID.String()}
}

// QuarterKey keys the n-th quarterly check-in of a contract.
func QuarterKey(contractID uuid.UUID, quarter int) TriggerKey {
	return TriggerKey{Type: TriggerEntityContractQuarter, ID: fmt.Sprintf("%s_Q%d", contractID, quarter)}
}

// SeasonalKey keys a seasonal greeting for one holiday in one year.
func SeasonalKey(h HolidayType, year int) TriggerKey {
	return TriggerKey{Type: TriggerEntitySeasonal, ID: fmt.Sprintf("%s_%d", h, year)}
}

// OpportunityKey keys a new-opportunity cadence.
func OpportunityKey(opportunityID uuid.UUID) TriggerKey {
	return TriggerKey{Type: TriggerEntityOpportunity, ID: opportunityID.String()}
}

// StaleDealKey keys a stale-deal nudge. The last activity date is part of the
// key so a deal that goes quiet again after new activity re-triggers.
func StaleDealKey(opportunityID uuid.UUID, lastActivity time.Time) TriggerKey {
	return TriggerKey{
		Type: TriggerEntityOpportunityStale,
		ID:   fmt.Sprintf("%s_%s", opportunityID, lastActivity.Format("20060102")),
	}
}

// QuoteKey keys a quote follow-up cadence.
func QuoteKey(quoteID uuid.UUID) TriggerKey {
	return TriggerKey{Type: TriggerEntityQuote, ID: quoteID.String()}
}

// =============================================================================
// Scheduling arithmetic
// =============================================================================

// NextRunAt returns when a step with the given delay should run, measured
// from the previous step. Negative delays are floored so a step is never
// scheduled in the past relative to from.
func NextRunAt(from time.Time, delayDays int) time.Time {
	if delayDays <= 0 {
		return from
	}
	return from.Add(time.Duration(delayDays) * 24 * time.Hour)
}

// ContextOpportunityID is the trigger context key linking a prospect
// enrollment to its opportunity. Task and stage steps use it.
const ContextOpportunityID = "opportunity_id"
