// Package domain contains core business types and interfaces.
//
// This file defines sequences and their steps: the ordered, timed templates
// that drive automated customer and prospect email.
package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Sequence Type
// =============================================================================

// SequenceType identifies which trigger class feeds a sequence.
type SequenceType string

const (
	// SequenceTypeRenewal fires a fixed number of days before a contract ends.
	SequenceTypeRenewal SequenceType = "auto_renewal"

	// SequenceTypePayment fires a fixed number of days after an invoice is due.
	SequenceTypePayment SequenceType = "auto_payment"

	// SequenceTypeQuarterly fires on every 90-day anniversary of a contract.
	SequenceTypeQuarterly SequenceType = "auto_quarterly"

	// SequenceTypeProspect is a multi-touch sales cadence fed by opportunity
	// and quote events.
	SequenceTypeProspect SequenceType = "prospect_cadence"

	seasonalPrefix = "seasonal_"
)

// SeasonalSequenceType returns the sequence type used for a seasonal holiday.
func SeasonalSequenceType(h HolidayType) SequenceType {
	return SequenceType(seasonalPrefix + string(h))
}

// String returns the string representation of the type.
func (t SequenceType) String() string {
	return string(t)
}

// Holiday returns the holiday a seasonal sequence type belongs to.
func (t SequenceType) Holiday() (HolidayType, bool) {
	if !strings.HasPrefix(string(t), seasonalPrefix) {
		return "", false
	}
	h := HolidayType(strings.TrimPrefix(string(t), seasonalPrefix))
	if _, ok := LookupHoliday(h); !ok {
		return "", false
	}
	return h, true
}

// IsValid returns true if the type is a recognized value.
func (t SequenceType) IsValid() bool {
	switch t {
	case SequenceTypeRenewal, SequenceTypePayment, SequenceTypeQuarterly, SequenceTypeProspect:
		return true
	}
	_, ok := t.Holiday()
	return ok
}

// IsProspect reports whether the sequence belongs to the sales cadence
// family rather than the customer-lifecycle automations.
func (t SequenceType) IsProspect() bool {
	return t == SequenceTypeProspect
}

// =============================================================================
// Sequence Status
// =============================================================================

// SequenceStatus represents the lifecycle state of a sequence.
type SequenceStatus string

const (
	// SequenceStatusDraft is the authoring state. Steps may be added.
	SequenceStatusDraft SequenceStatus = "draft"

	// SequenceStatusActive sequences are consulted by triggers and their
	// steps are frozen.
	SequenceStatusActive SequenceStatus = "active"

	// SequenceStatusPaused sequences accept no new enrollments.
	SequenceStatusPaused SequenceStatus = "paused"

	// SequenceStatusArchived sequences are retired.
	SequenceStatusArchived SequenceStatus = "archived"
)

// String returns the string representation of the status.
func (s SequenceStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s SequenceStatus) IsValid() bool {
	switch s {
	case SequenceStatusDraft, SequenceStatusActive, SequenceStatusPaused, SequenceStatusArchived:
		return true
	}
	return false
}

// CanTransitionTo checks if the sequence can move to the target status.
//
// Valid transitions:
// - draft -> active
// - active <-> paused
// - any non-archived -> archived
func (s SequenceStatus) CanTransitionTo(target SequenceStatus) bool {
	switch s {
	case SequenceStatusDraft:
		return target == SequenceStatusActive || target == SequenceStatusArchived
	case SequenceStatusActive:
		return target == SequenceStatusPaused || target == SequenceStatusArchived
	case SequenceStatusPaused:
		return target == SequenceStatusActive || target == SequenceStatusArchived
	}
	return false
}

// =============================================================================
// Department
// =============================================================================

// Department selects the default sender address of a sequence.
type Department string

const (
	DepartmentSales   Department = "sales"
	DepartmentFinance Department = "finance"
	DepartmentTech    Department = "tech"
	DepartmentMusic   Department = "music"
)

// IsValid returns true if the department is a recognized value.
func (d Department) IsValid() bool {
	switch d {
	case DepartmentSales, DepartmentFinance, DepartmentTech, DepartmentMusic:
		return true
	}
	return false
}

// =============================================================================
// Step Action
// =============================================================================

// ActionType is the kind of work a sequence step performs when it fires.
type ActionType string

const (
	ActionSendTemplate ActionType = "send_template"
	ActionSendAIDraft  ActionType = "send_ai_draft"
	ActionCreateTask   ActionType = "create_task"
	ActionAdvanceStage ActionType = "advance_stage"
)

// String returns the string representation of the action.
func (a ActionType) String() string {
	return string(a)
}

// IsValid returns true if the action is a recognized value.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionSendTemplate, ActionSendAIDraft, ActionCreateTask, ActionAdvanceStage:
		return true
	}
	return false
}

// =============================================================================
// Prospect Trigger Events
// =============================================================================

// TriggerEvent is the CRM event a prospect cadence listens to.
type TriggerEvent string

const (
	TriggerEventNewOpportunity TriggerEvent = "new_opportunity"
	TriggerEventStaleDeal      TriggerEvent = "stale_deal"
	TriggerEventQuoteSent      TriggerEvent = "quote_sent"
)

// IsValid returns true if the event is a recognized value.
func (e TriggerEvent) IsValid() bool {
	switch e {
	case TriggerEventNewOpportunity, TriggerEventStaleDeal, TriggerEventQuoteSent:
		return true
	}
	return false
}

// =============================================================================
// Step validation
// =============================================================================

// ValidateStepOrdinals checks that ordinals form the contiguous range 1..n in
// order.
func ValidateStepOrdinals(ordinals []int) error {
	for i, o := range ordinals {
		if o != i+1 {
			return fmt.Errorf("step ordinal %d at position %d: ordinals must be contiguous from 1", o, i)
		}
	}
	return nil
}
