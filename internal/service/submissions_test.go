package service

import (
	"context"
	"testing"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caseAction(action models.CaseAction) models.CaseActionRequest {
	return models.CaseActionRequest{
		TraceID: "CRY-2024-030",
		Action:  action,
		Reason:  "Funds moved to a known mixer",
	}
}

func TestCaseActionWithoutAssignmentGoesToTriage(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")
	foreignAdmin := env.seedUser(t, "foreign@test.com", models.RoleAdmin, "Harbor")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")

	resp, err := env.svc.SubmitCaseAction(ctx, principal(victim), caseAction(models.ActionProsecute))
	require.NoError(t, err)
	sub := resp.Submission
	assert.Equal(t, models.RoutingTriage, sub.Routing)
	assert.Nil(t, sub.OfficerID)
	assert.Equal(t, "Metro", sub.Department)
	assert.Equal(t, models.SubmissionSubmitted, sub.Status)

	queue, err := env.svc.ListTriage(ctx, principal(admin))
	require.NoError(t, err)
	require.Len(t, queue.Submissions, 1)
	assert.Equal(t, sub.ID, queue.Submissions[0].ID)

	queue, err = env.svc.ListTriage(ctx, principal(foreignAdmin))
	require.NoError(t, err)
	assert.Empty(t, queue.Submissions)

	_, err = env.svc.RouteTriage(ctx, principal(foreignAdmin), sub.ID, models.RouteTriageRequest{OfficerID: officer.ID})
	assertKind(t, err, KindForbidden)

	routed, err := env.svc.RouteTriage(ctx, principal(admin), sub.ID, models.RouteTriageRequest{OfficerID: officer.ID})
	require.NoError(t, err)
	assert.Equal(t, models.RoutingAssigned, routed.Submission.Routing)
	require.NotNil(t, routed.Submission.OfficerID)
	assert.Equal(t, officer.ID, *routed.Submission.OfficerID)

	// Routing also assigns the officer to the victim
	active, err := env.svc.GetActiveAssignment(ctx, victim.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, officer.ID, active.OfficerID)
	assert.Equal(t, models.AssignedByAdminTriage, active.AssignedBy)

	_, err = env.svc.RouteTriage(ctx, principal(admin), sub.ID, models.RouteTriageRequest{OfficerID: officer.ID})
	assertKind(t, err, KindConflict)

	queue, err = env.svc.ListTriage(ctx, principal(admin))
	require.NoError(t, err)
	assert.Empty(t, queue.Submissions)
}

func TestCaseActionRoutesToActiveOfficer(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	other := env.seedUser(t, "other@test.com", models.RoleOfficer, "Metro")
	_, err := env.svc.RequestOfficer(ctx, principal(victim), models.RequestOfficerRequest{OfficerID: officer.ID})
	require.NoError(t, err)

	req := caseAction(models.ActionRecoverFunds)
	amount := decimal.RequireFromString("1250.505")
	req.RecoveryAmount = &amount
	req.RiskLevel = models.RiskHigh

	resp, err := env.svc.SubmitCaseAction(ctx, principal(victim), req)
	require.NoError(t, err)
	sub := resp.Submission
	assert.Equal(t, models.RoutingAssigned, sub.Routing)
	require.NotNil(t, sub.OfficerID)
	assert.Equal(t, officer.ID, *sub.OfficerID)
	assert.True(t, sub.RecoveryAmount.Valid)
	assert.Equal(t, "1250.51", sub.RecoveryAmount.Decimal.StringFixed(2))

	mine, err := env.svc.ListCaseActions(ctx, principal(victim))
	require.NoError(t, err)
	require.Len(t, mine.Submissions, 1)

	inbox, err := env.svc.ListOfficerSubmissions(ctx, principal(officer))
	require.NoError(t, err)
	require.Len(t, inbox.Submissions, 1)

	_, err = env.svc.ReviewSubmission(ctx, principal(other), sub.ID, models.ReviewSubmissionRequest{Status: models.SubmissionAccepted})
	assertKind(t, err, KindForbidden)

	reviewed, err := env.svc.ReviewSubmission(ctx, principal(officer), sub.ID, models.ReviewSubmissionRequest{
		Status: models.SubmissionUnderReview, OfficerNotes: "Contacted the exchange",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionUnderReview, reviewed.Submission.Status)
	assert.Equal(t, "Contacted the exchange", reviewed.Submission.OfficerNotes)

	accepted, err := env.svc.ReviewSubmission(ctx, principal(officer), sub.ID, models.ReviewSubmissionRequest{Status: models.SubmissionAccepted})
	require.NoError(t, err)
	assert.Equal(t, "Contacted the exchange", accepted.Submission.OfficerNotes, "empty notes keep the previous ones")

	_, err = env.svc.ReviewSubmission(ctx, principal(officer), sub.ID, models.ReviewSubmissionRequest{Status: models.SubmissionRejected})
	assertKind(t, err, KindConflict)
}

func TestCaseActionValidation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")

	_, err := env.svc.SubmitCaseAction(ctx, principal(officer), caseAction(models.ActionProsecute))
	assertKind(t, err, KindForbidden)

	_, err = env.svc.SubmitCaseAction(ctx, principal(victim), caseAction("arrest"))
	assertKind(t, err, KindValidation)

	req := caseAction(models.ActionRecoverFunds)
	zero := decimal.Zero
	req.RecoveryAmount = &zero
	_, err = env.svc.SubmitCaseAction(ctx, principal(victim), req)
	assertKind(t, err, KindValidation)

	_, err = env.svc.ReviewSubmission(ctx, principal(officer), "missing", models.ReviewSubmissionRequest{Status: models.SubmissionAccepted})
	assertKind(t, err, KindNotFound)
}

func TestDeactivatedOfficerNoLongerReceivesCaseActions(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	_, err := env.svc.RequestOfficer(ctx, principal(victim), models.RequestOfficerRequest{OfficerID: officer.ID})
	require.NoError(t, err)

	_, err = env.svc.DeactivateUser(ctx, principal(admin), officer.ID)
	require.NoError(t, err)

	active, err := env.repo.GetActiveAssignment(ctx, victim.ID)
	require.NoError(t, err)
	assert.Nil(t, active, "deactivating an officer closes their assignments")

	history, err := env.svc.AssignmentHistory(ctx, principal(admin), victim.ID)
	require.NoError(t, err)
	require.Len(t, history.Assignments, 1, "closed assignments are kept")
	assert.NotNil(t, history.Assignments[0].DeactivatedAt)

	resp, err := env.svc.SubmitCaseAction(ctx, principal(victim), caseAction(models.ActionProsecute))
	require.NoError(t, err)
	assert.Equal(t, models.RoutingTriage, resp.Submission.Routing)
	assert.Nil(t, resp.Submission.OfficerID)

	queue, err := env.svc.ListTriage(ctx, principal(admin))
	require.NoError(t, err)
	assert.Len(t, queue.Submissions, 1)
}

func TestCaseActionSkipsInactiveOfficerAssignment(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	_, err := env.svc.RequestOfficer(ctx, principal(victim), models.RequestOfficerRequest{OfficerID: officer.ID})
	require.NoError(t, err)

	// Deactivated outside the service, assignment still open
	_, err = env.repo.SetUserActive(ctx, officer.ID, false)
	require.NoError(t, err)

	resp, err := env.svc.SubmitCaseAction(ctx, principal(victim), caseAction(models.ActionFreezeAssets))
	require.NoError(t, err)
	assert.Equal(t, models.RoutingTriage, resp.Submission.Routing)
	assert.Nil(t, resp.Submission.OfficerID)
}
