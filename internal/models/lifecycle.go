package models

// TraceStatus is the lifecycle state of a trace.
type TraceStatus string

const (
	TraceSubmitted  TraceStatus = "submitted"
	TraceQueued     TraceStatus = "queued"
	TraceProcessing TraceStatus = "processing"
	TraceCompleted  TraceStatus = "completed"
	TraceFailed     TraceStatus = "failed"
)

var traceTransitions = map[TraceStatus][]TraceStatus{
	TraceSubmitted:  {TraceQueued},
	TraceQueued:     {TraceProcessing},
	TraceProcessing: {TraceCompleted, TraceFailed},
}

// Valid reports whether s is a known trace status.
func (s TraceStatus) Valid() bool {
	switch s {
	case TraceSubmitted, TraceQueued, TraceProcessing, TraceCompleted, TraceFailed:
		return true
	}
	return false
}

// Terminal states have no outgoing transitions.
func (s TraceStatus) Terminal() bool {
	return s == TraceCompleted || s == TraceFailed
}

// CanTransition reports whether a trace may move from s to next.
func (s TraceStatus) CanTransition(next TraceStatus) bool {
	for _, allowed := range traceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RequiresPayment reports whether leaving s is gated on a succeeded payment
// for premium traces.
func (s TraceStatus) RequiresPayment() bool {
	return s == TraceSubmitted || s == TraceQueued
}

// SubmissionOrigin records who filed a trace.
type SubmissionOrigin string

const (
	OriginOfficer SubmissionOrigin = "officer"
	OriginVictim  SubmissionOrigin = "victim"
)

// PaymentStatus is the state of one payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal payment states are never left.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

// AssignedBy names the actor that created an assignment.
type AssignedBy string

const (
	AssignedByVictimRequest    AssignedBy = "victim_request"
	AssignedByAdmin            AssignedBy = "admin"
	AssignedByAdminTriage      AssignedBy = "admin_triage"
	AssignedByDepartmentIntake AssignedBy = "department_intake"
)

// CaseAction is the kind of action a victim asks the police to take.
type CaseAction string

const (
	ActionProsecute    CaseAction = "prosecute"
	ActionFreezeAssets CaseAction = "freeze_assets"
	ActionRecoverFunds CaseAction = "recover_funds"
)

// RiskLevel is the analysis risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether l is a known risk level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Routing says whether a case submission reached an officer or waits in triage.
type Routing string

const (
	RoutingAssigned Routing = "assigned"
	RoutingTriage   Routing = "triage"
)

// SubmissionStatus is the review state of a police case submission.
type SubmissionStatus string

const (
	SubmissionSubmitted   SubmissionStatus = "submitted"
	SubmissionUnderReview SubmissionStatus = "under_review"
	SubmissionAccepted    SubmissionStatus = "accepted"
	SubmissionRejected    SubmissionStatus = "rejected"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionSubmitted:   {SubmissionUnderReview, SubmissionAccepted, SubmissionRejected},
	SubmissionUnderReview: {SubmissionAccepted, SubmissionRejected},
}

// CanTransition reports whether a review may move from s to next.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
