package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allTraceStatuses = []TraceStatus{
	TraceSubmitted, TraceQueued, TraceProcessing, TraceCompleted, TraceFailed,
}

func TestTraceTransitions(t *testing.T) {
	allowed := map[[2]TraceStatus]bool{
		{TraceSubmitted, TraceQueued}:    true,
		{TraceQueued, TraceProcessing}:   true,
		{TraceProcessing, TraceCompleted}: true,
		{TraceProcessing, TraceFailed}:   true,
	}

	for _, from := range allTraceStatuses {
		for _, to := range allTraceStatuses {
			want := allowed[[2]TraceStatus{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalTraceStatusesHaveNoExits(t *testing.T) {
	for _, s := range []TraceStatus{TraceCompleted, TraceFailed} {
		assert.True(t, s.Terminal())
		for _, to := range allTraceStatuses {
			assert.False(t, s.CanTransition(to), "%s -> %s", s, to)
		}
	}
}

func TestPaymentGateCoversSubmittedAndQueued(t *testing.T) {
	assert.True(t, TraceSubmitted.RequiresPayment())
	assert.True(t, TraceQueued.RequiresPayment())
	assert.False(t, TraceProcessing.RequiresPayment())
	assert.False(t, TraceStatus("archived").Valid())
}

func TestSubmissionTransitions(t *testing.T) {
	assert.True(t, SubmissionSubmitted.CanTransition(SubmissionUnderReview))
	assert.True(t, SubmissionSubmitted.CanTransition(SubmissionRejected))
	assert.True(t, SubmissionUnderReview.CanTransition(SubmissionAccepted))
	assert.False(t, SubmissionUnderReview.CanTransition(SubmissionSubmitted))
	assert.False(t, SubmissionAccepted.CanTransition(SubmissionRejected))
	assert.False(t, SubmissionRejected.CanTransition(SubmissionUnderReview))
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentPending.Terminal())
	assert.True(t, PaymentSucceeded.Terminal())
	assert.True(t, PaymentFailed.Terminal())
}
