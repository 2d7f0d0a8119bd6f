package domain

// =============================================================================
// Reply Classification
// =============================================================================

// Classification is the closed set of labels a reply can receive.
type Classification string

const (
	ClassInterested     Classification = "interested"
	ClassNotInterested  Classification = "not_interested"
	ClassQuestion       Classification = "question"
	ClassObjection      Classification = "objection"
	ClassMeetingRequest Classification = "meeting_request"
	ClassReferral       Classification = "referral"
	ClassOutOfOffice    Classification = "out_of_office"
	ClassUnsubscribe    Classification = "unsubscribe"
	ClassBounce         Classification = "bounce"
	ClassOther          Classification = "other"
	ClassUnclassified   Classification = "unclassified"
)

// AllClassifications lists every label in a stable order.
var AllClassifications = []Classification{
	ClassInterested, ClassNotInterested, ClassQuestion, ClassObjection,
	ClassMeetingRequest, ClassReferral, ClassOutOfOffice, ClassUnsubscribe,
	ClassBounce, ClassOther, ClassUnclassified,
}

// String returns the string representation of the label.
func (c Classification) String() string {
	return string(c)
}

// IsValid returns true if the label is part of the closed set.
func (c Classification) IsValid() bool {
	for _, known := range AllClassifications {
		if c == known {
			return true
		}
	}
	return false
}

// ClassificationMethod records how a label was decided.
type ClassificationMethod string

const (
	MethodRule ClassificationMethod = "rule"
	MethodAI   ClassificationMethod = "ai"
	MethodNone ClassificationMethod = "none"
)

// String returns the string representation of the method.
func (m ClassificationMethod) String() string {
	return string(m)
}

const (
	// ReviewThreshold is the confidence below which a reply is flagged for
	// human review.
	ReviewThreshold = 0.80

	// MinRuleConfidence is the lowest confidence a pattern rule may assign.
	MinRuleConfidence = 0.90
)

// NeedsReview reports whether a classification at this confidence must be
// reviewed by a human.
func NeedsReview(confidence float64) bool {
	return confidence < ReviewThreshold
}

// =============================================================================
// Auto-action policy
// =============================================================================

// ReplyPolicy describes what the dispatcher does for one classification.
type ReplyPolicy struct {
	// EnrollmentStatus is the status the matched enrollment moves to.
	EnrollmentStatus EnrollmentStatus

	// PauseReason is recorded when EnrollmentStatus is paused.
	PauseReason PauseReason

	// PauseSiblings pauses every other active enrollment of the same company
	// with reason reply-received.
	PauseSiblings bool

	// CreateTask creates a CRM task due TaskDueDays after today.
	CreateTask  bool
	TaskDueDays int
	TaskTitle   string

	// AdvanceStage moves an open opportunity from Contacted to Quotation Sent.
	AdvanceStage bool

	// OptOut clears the contact's receives_notifications flag.
	OptOut bool

	// ForceReview flags the reply for human review whatever the confidence.
	ForceReview bool

	// Warn logs the outcome at warning level.
	Warn bool
}

var replyPolicies = map[Classification]ReplyPolicy{
	ClassInterested: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 1, TaskTitle: "Follow up: interested reply",
		AdvanceStage: true,
	},
	ClassMeetingRequest: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 1, TaskTitle: "Follow up: meeting request",
		AdvanceStage: true,
	},
	ClassNotInterested: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 1, TaskTitle: "Review: not interested reply",
	},
	ClassQuestion: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 0, TaskTitle: "Answer question from reply",
	},
	ClassObjection: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 0, TaskTitle: "Handle objection from reply",
	},
	ClassReferral: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 1, TaskTitle: "Follow up on referral",
	},
	ClassOutOfOffice: {
		EnrollmentStatus: EnrollmentStatusPaused, PauseReason: PauseReasonOutOfOffice,
		CreateTask: true, TaskDueDays: 7, TaskTitle: "Resume sequence after out-of-office",
	},
	ClassUnsubscribe: {
		EnrollmentStatus: EnrollmentStatusCancelled, PauseSiblings: true,
		OptOut: true,
	},
	ClassBounce: {
		EnrollmentStatus: EnrollmentStatusCancelled,
		Warn:             true,
	},
	ClassOther: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 0, TaskTitle: "Review unclassified reply",
		ForceReview: true,
	},
	ClassUnclassified: {
		EnrollmentStatus: EnrollmentStatusReplied, PauseSiblings: true,
		CreateTask: true, TaskDueDays: 0, TaskTitle: "Review unclassified reply",
		ForceReview: true,
	},
}

// PolicyFor returns the auto-action policy of a classification. Unknown
// labels get the unclassified policy.
func PolicyFor(c Classification) ReplyPolicy {
	if p, ok := replyPolicies[c]; ok {
		return p
	}
	return replyPolicies[ClassUnclassified]
}
