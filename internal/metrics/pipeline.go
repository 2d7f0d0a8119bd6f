package metrics

// EnrollmentCreated records a new enrollment for the trigger entity type
// ("manual" for operator enrollments).
func EnrollmentCreated(trigger string) {
	EnrollmentsCreated.WithLabelValues(trigger).Inc()
}

// ExecutionProcessed records one processed step execution.
func ExecutionProcessed(action, outcome string) {
	ExecutionsProcessed.WithLabelValues(action, outcome).Inc()
}

// ReplyStored records a stored inbound reply.
func ReplyStored(classification, method string) {
	RepliesTotal.WithLabelValues(classification, method).Inc()
}

// EmailAttempted records the final status of one outbound email.
func EmailAttempted(sent bool) {
	if sent {
		EmailsTotal.WithLabelValues("sent").Inc()
		return
	}
	EmailsTotal.WithLabelValues("failed").Inc()
}

// AIDraft records a draft transition.
func AIDraft(status string) {
	AIDraftsTotal.WithLabelValues(status).Inc()
}

// AICall records one provider call and its token usage.
func AICall(provider, operation string, err error, inputTokens, outputTokens int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AIAPICalls.WithLabelValues(provider, operation, status).Inc()
	if inputTokens > 0 {
		AITokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		AITokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// CycleSkipped records a cycle that exited early.
func CycleSkipped(cycle, reason string) {
	CycleSkippedTotal.WithLabelValues(cycle, reason).Inc()
}
