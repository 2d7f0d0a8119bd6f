package domain

import "time"

// =============================================================================
// Step Execution Status
// =============================================================================

// ExecutionStatus represents the lifecycle state of one scheduled step.
type ExecutionStatus string

const (
	// ExecutionStatusScheduled executions wait for scheduled_for to pass.
	ExecutionStatusScheduled ExecutionStatus = "scheduled"

	// ExecutionStatusPendingApproval executions hold an AI draft awaiting a
	// human decision.
	ExecutionStatusPendingApproval ExecutionStatus = "pending_approval"

	// ExecutionStatusSent executions performed their action successfully.
	// For non-email actions "sent" means "done".
	ExecutionStatusSent ExecutionStatus = "sent"

	// ExecutionStatusFailed executions hit an error. Failed is terminal;
	// an operator re-queues manually.
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusExpired executions held a draft nobody approved in time.
	ExecutionStatusExpired ExecutionStatus = "expired"
)

// String returns the string representation of the status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusScheduled, ExecutionStatusPendingApproval, ExecutionStatusSent,
		ExecutionStatusFailed, ExecutionStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the execution can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSent || s == ExecutionStatusFailed || s == ExecutionStatusExpired
}

// CanTransitionTo checks if the execution can move to the target status.
//
// Valid transitions:
// - scheduled -> sent | failed | pending_approval
// - pending_approval -> sent | failed | expired
func (s ExecutionStatus) CanTransitionTo(target ExecutionStatus) bool {
	switch s {
	case ExecutionStatusScheduled:
		return target == ExecutionStatusSent || target == ExecutionStatusFailed ||
			target == ExecutionStatusPendingApproval
	case ExecutionStatusPendingApproval:
		return target == ExecutionStatusSent || target == ExecutionStatusFailed ||
			target == ExecutionStatusExpired
	}
	return false
}

// =============================================================================
// AI Draft Status
// =============================================================================

// DefaultDraftTTL is how long an AI draft waits for approval.
const DefaultDraftTTL = 24 * time.Hour

// DraftStatus represents the review state of an AI-generated draft.
type DraftStatus string

const (
	DraftStatusPendingReview DraftStatus = "pending_review"
	DraftStatusApproved      DraftStatus = "approved"
	DraftStatusRejected      DraftStatus = "rejected"
	DraftStatusExpired       DraftStatus = "expired"
)

// String returns the string representation of the status.
func (s DraftStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if the draft can move to the target status. Only a
// pending draft can be decided.
func (s DraftStatus) CanTransitionTo(target DraftStatus) bool {
	if s != DraftStatusPendingReview {
		return false
	}
	switch target {
	case DraftStatusApproved, DraftStatusRejected, DraftStatusExpired:
		return true
	}
	return false
}

// DraftExpired reports whether a draft with the given deadline has expired at
// now. A draft expiring exactly at now is still approvable.
func DraftExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// =============================================================================
// Email Log
// =============================================================================

// EmailStatus is the delivery state of an outbound email.
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// String returns the string representation of the status.
func (s EmailStatus) String() string {
	return string(s)
}

// EmailType classifies outbound email. Only sequence email participates in
// reply matching.
type EmailType string

const (
	EmailTypeSequence      EmailType = "sequence"
	EmailTypeTransactional EmailType = "transactional"
)

// String returns the string representation of the type.
func (t EmailType) String() string {
	return string(t)
}
