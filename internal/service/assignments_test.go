package service

import (
	"context"
	"sync"
	"testing"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReassignmentKeepsHistory(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	first := env.seedUser(t, "first@test.com", models.RoleOfficer, "Metro")
	second := env.seedUser(t, "second@test.com", models.RoleOfficer, "Metro")
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")

	resp, err := env.svc.RequestOfficer(ctx, principal(victim), models.RequestOfficerRequest{OfficerID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, models.AssignedByVictimRequest, resp.Assignment.AssignedBy)

	_, err = env.svc.AdminAssign(ctx, principal(admin), models.AssignOfficerRequest{VictimID: victim.ID, OfficerID: second.ID})
	require.NoError(t, err)

	mine, err := env.svc.GetMyAssignment(ctx, principal(victim))
	require.NoError(t, err)
	require.NotNil(t, mine.Assignment)
	assert.Equal(t, second.ID, mine.Assignment.OfficerID)

	history, err := env.svc.AssignmentHistory(ctx, principal(admin), victim.ID)
	require.NoError(t, err)
	require.Len(t, history.Assignments, 2)
	assert.Equal(t, first.ID, history.Assignments[0].OfficerID)
	assert.False(t, history.Assignments[0].IsActive)
	assert.NotNil(t, history.Assignments[0].DeactivatedAt)
	assert.True(t, history.Assignments[1].IsActive)

	victims, err := env.svc.OfficerVictims(ctx, principal(second))
	require.NoError(t, err)
	require.Len(t, victims.Users, 1)
	assert.Equal(t, victim.ID, victims.Users[0].ID)

	victims, err = env.svc.OfficerVictims(ctx, principal(first))
	require.NoError(t, err)
	assert.Empty(t, victims.Users)
}

func TestAssignOfficerValidatesParties(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	retired := env.seedUser(t, "retired@test.com", models.RoleOfficer, "Metro")
	_, err := env.repo.SetUserActive(ctx, retired.ID, false)
	require.NoError(t, err)

	_, err = env.svc.AssignOfficer(ctx, officer.ID, officer.ID, models.AssignedByAdmin, "")
	assertKind(t, err, KindValidation)

	_, err = env.svc.AssignOfficer(ctx, victim.ID, victim.ID, models.AssignedByAdmin, "")
	assertKind(t, err, KindValidation)

	_, err = env.svc.AssignOfficer(ctx, victim.ID, retired.ID, models.AssignedByAdmin, "")
	assertKind(t, err, KindValidation)

	_, err = env.svc.AssignOfficer(ctx, "missing", officer.ID, models.AssignedByAdmin, "")
	assertKind(t, err, KindNotFound)

	mine, err := env.svc.GetMyAssignment(ctx, principal(victim))
	require.NoError(t, err)
	assert.Nil(t, mine.Assignment)
}

func TestAssignmentPermissions(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	foreignAdmin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Harbor")

	_, err := env.svc.RequestOfficer(ctx, principal(officer), models.RequestOfficerRequest{OfficerID: officer.ID})
	assertKind(t, err, KindForbidden)

	_, err = env.svc.AdminAssign(ctx, principal(victim), models.AssignOfficerRequest{VictimID: victim.ID, OfficerID: officer.ID})
	assertKind(t, err, KindForbidden)

	_, err = env.svc.AdminAssign(ctx, principal(foreignAdmin), models.AssignOfficerRequest{VictimID: victim.ID, OfficerID: officer.ID})
	assertKind(t, err, KindForbidden)

	_, err = env.svc.AssignmentHistory(ctx, principal(foreignAdmin), victim.ID)
	assertKind(t, err, KindForbidden)

	_, err = env.svc.OfficerVictims(ctx, principal(victim))
	assertKind(t, err, KindForbidden)
}

func TestConcurrentAssignmentsLeaveOneActive(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officers := []*models.User{
		env.seedUser(t, "o1@test.com", models.RoleOfficer, "Metro"),
		env.seedUser(t, "o2@test.com", models.RoleOfficer, "Metro"),
		env.seedUser(t, "o3@test.com", models.RoleOfficer, "Metro"),
		env.seedUser(t, "o4@test.com", models.RoleOfficer, "Metro"),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(officers))
	for i, officer := range officers {
		wg.Add(1)
		go func(i int, officerID string) {
			defer wg.Done()
			_, errs[i] = env.svc.AssignOfficer(ctx, victim.ID, officerID, models.AssignedByAdmin, "")
		}(i, officer.ID)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assertKind(t, err, KindConflict)
		}
	}

	history, err := env.repo.ListAssignmentHistory(ctx, victim.ID)
	require.NoError(t, err)
	active := 0
	for _, a := range history {
		if a.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}
