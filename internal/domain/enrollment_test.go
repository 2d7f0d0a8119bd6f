package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEnrollmentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from EnrollmentStatus
		to   EnrollmentStatus
		want bool
	}{
		{"active to paused", EnrollmentStatusActive, EnrollmentStatusPaused, true},
		{"active to completed", EnrollmentStatusActive, EnrollmentStatusCompleted, true},
		{"active to replied", EnrollmentStatusActive, EnrollmentStatusReplied, true},
		{"active to cancelled", EnrollmentStatusActive, EnrollmentStatusCancelled, true},
		{"paused to active", EnrollmentStatusPaused, EnrollmentStatusActive, true},
		{"paused to replied", EnrollmentStatusPaused, EnrollmentStatusReplied, true},
		{"completed to replied", EnrollmentStatusCompleted, EnrollmentStatusReplied, true},
		{"replied to cancelled", EnrollmentStatusReplied, EnrollmentStatusCancelled, true},

		{"paused to completed", EnrollmentStatusPaused, EnrollmentStatusCompleted, false},
		{"completed to active", EnrollmentStatusCompleted, EnrollmentStatusActive, false},
		{"replied to active", EnrollmentStatusReplied, EnrollmentStatusActive, false},
		{"cancelled to active", EnrollmentStatusCancelled, EnrollmentStatusActive, false},
		{"cancelled to replied", EnrollmentStatusCancelled, EnrollmentStatusReplied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestExecutionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from ExecutionStatus
		to   ExecutionStatus
		want bool
	}{
		{"scheduled to sent", ExecutionStatusScheduled, ExecutionStatusSent, true},
		{"scheduled to failed", ExecutionStatusScheduled, ExecutionStatusFailed, true},
		{"scheduled to pending approval", ExecutionStatusScheduled, ExecutionStatusPendingApproval, true},
		{"pending approval to sent", ExecutionStatusPendingApproval, ExecutionStatusSent, true},
		{"pending approval to expired", ExecutionStatusPendingApproval, ExecutionStatusExpired, true},

		{"scheduled to expired", ExecutionStatusScheduled, ExecutionStatusExpired, false},
		{"sent to failed", ExecutionStatusSent, ExecutionStatusFailed, false},
		{"failed to scheduled", ExecutionStatusFailed, ExecutionStatusScheduled, false},
		{"expired to sent", ExecutionStatusExpired, ExecutionStatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	assert.False(t, ExecutionStatusScheduled.IsTerminal())
	assert.False(t, ExecutionStatusPendingApproval.IsTerminal())
	assert.True(t, ExecutionStatusSent.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusExpired.IsTerminal())
}

func TestDraftStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, DraftStatusPendingReview.CanTransitionTo(DraftStatusApproved))
	assert.True(t, DraftStatusPendingReview.CanTransitionTo(DraftStatusExpired))
	assert.False(t, DraftStatusExpired.CanTransitionTo(DraftStatusApproved))
	assert.False(t, DraftStatusApproved.CanTransitionTo(DraftStatusRejected))
}

func TestDraftExpired(t *testing.T) {
	deadline := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.False(t, DraftExpired(deadline, deadline.Add(-time.Minute)))
	assert.False(t, DraftExpired(deadline, deadline))
	assert.True(t, DraftExpired(deadline, deadline.Add(time.Second)))
}

func TestNextRunAt(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		delay int
		want  time.Time
	}{
		{"zero delay runs now", 0, now},
		{"negative delay is floored", -3, now},
		{"seven days", 7, now.Add(7 * 24 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRunAt(now, tt.delay))
		})
	}
}

func TestTriggerKeys(t *testing.T) {
	id := uuid.MustParse("0b6f3e4a-3f57-4a51-9a38-1f2f1b7d9c01")

	assert.Equal(t, TriggerKey{TriggerEntityContract, id.String()}, ContractKey(id))
	assert.Equal(t, "0b6f3e4a-3f57-4a51-9a38-1f2f1b7d9c01_Q3", QuarterKey(id, 3).ID)
	assert.Equal(t, TriggerEntityContractQuarter, QuarterKey(id, 3).Type)
	assert.Equal(t, TriggerKey{TriggerEntitySeasonal, "christmas_2025"}, SeasonalKey(HolidayChristmas, 2025))
	assert.Equal(t, "0b6f3e4a-3f57-4a51-9a38-1f2f1b7d9c01_20250301",
		StaleDealKey(id, time.Date(2025, 3, 1, 15, 4, 0, 0, time.UTC)).ID)
}

func TestSequenceType_Holiday(t *testing.T) {
	h, ok := SeasonalSequenceType(HolidayEaster).Holiday()
	assert.True(t, ok)
	assert.Equal(t, HolidayEaster, h)

	_, ok = SequenceType("seasonal_groundhog").Holiday()
	assert.False(t, ok)

	_, ok = SequenceTypeRenewal.Holiday()
	assert.False(t, ok)

	assert.True(t, SequenceType("seasonal_christmas").IsValid())
	assert.False(t, SequenceType("seasonal_groundhog").IsValid())
}

func TestValidateStepOrdinals(t *testing.T) {
	assert.NoError(t, ValidateStepOrdinals([]int{1, 2, 3}))
	assert.NoError(t, ValidateStepOrdinals(nil))
	assert.Error(t, ValidateStepOrdinals([]int{1, 3}))
	assert.Error(t, ValidateStepOrdinals([]int{0, 1}))
}
