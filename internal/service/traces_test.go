package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusReq(status models.TraceStatus) models.UpdateTraceStatusRequest {
	return models.UpdateTraceStatusRequest{Status: status}
}

func TestTraceLifecycleToCompletion(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	p := principal(officer)

	trace := env.fileTrace(t, officer, "CRY-2024-001", false)
	assert.Equal(t, models.TraceSubmitted, trace.Status)
	assert.Equal(t, models.OriginOfficer, trace.SubmittedBy)

	for _, next := range []models.TraceStatus{models.TraceQueued, models.TraceProcessing} {
		_, err := env.svc.UpdateTraceStatus(ctx, p, trace.ID, statusReq(next))
		require.NoError(t, err)
	}
	resp, err := env.svc.UpdateTraceStatus(ctx, p, trace.ID, models.UpdateTraceStatusRequest{
		Status:    models.TraceCompleted,
		Results:   json.RawMessage(`{"hops": 4, "exchange": "ExampleEx"}`),
		ReportURL: "https://reports.example.com/CRY-2024-001.pdf",
	})
	require.NoError(t, err)

	stored, err := env.repo.GetTrace(ctx, trace.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TraceCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(env.clock.Now()))
	require.NotNil(t, stored.Results)
	assert.JSONEq(t, `{"hops": 4, "exchange": "ExampleEx"}`, string(*stored.Results))
	assert.Equal(t, resp.Trace.Status, stored.Status)

	_, err = env.svc.UpdateTraceStatus(ctx, p, trace.ID, statusReq(models.TraceProcessing))
	assertKind(t, err, KindConflict)

	after, err := env.repo.GetTrace(ctx, trace.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TraceCompleted, after.Status)
}

func TestRejectedTransitionWritesNothing(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-002", false)

	_, err := env.svc.UpdateTraceStatus(ctx, principal(victim), trace.ID, statusReq(models.TraceCompleted))
	assertKind(t, err, KindConflict)

	stored, err := env.repo.GetTrace(ctx, trace.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TraceSubmitted, stored.Status)
	assert.Nil(t, stored.CompletedAt)

	events, err := env.repo.ListAuditEvents(ctx, repository.AuditFilter{TargetType: "trace", TargetID: trace.ID})
	require.NoError(t, err)
	assert.Len(t, events, 1, "only the creation is audited")
}

func TestQueuedTraceGetsEstimate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-003", false)

	resp, err := env.svc.UpdateTraceStatus(ctx, principal(victim), trace.ID, statusReq(models.TraceQueued))
	require.NoError(t, err)
	require.NotNil(t, resp.Trace.EstimatedCompletion)
	assert.True(t, resp.Trace.EstimatedCompletion.Equal(env.clock.Now().Add(72*time.Hour)))
}

func TestCreateTraceValidation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")

	req := models.CreateTraceRequest{
		CaseNumber:    "CRY-2024-004",
		CryptoType:    "ETH",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		VictimName:    "Jane Doe",
		IncidentDate:  "2099-01-01",
	}
	_, err := env.svc.CreateTrace(ctx, principal(victim), req)
	assertKind(t, err, KindValidation)

	req.IncidentDate = "yesterday"
	_, err = env.svc.CreateTrace(ctx, principal(victim), req)
	assertKind(t, err, KindValidation)

	req.IncidentDate = "2024-01-01"
	_, err = env.svc.CreateTrace(ctx, principal(admin), req)
	assertKind(t, err, KindForbidden)

	resp, err := env.svc.CreateTrace(ctx, principal(victim), req)
	require.NoError(t, err)
	assert.Equal(t, models.OriginVictim, resp.Trace.SubmittedBy)
}

func TestTraceReadAccess(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	assigned := env.seedUser(t, "assigned@test.com", models.RoleOfficer, "Metro")
	other := env.seedUser(t, "other@test.com", models.RoleOfficer, "Metro")
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")
	foreignAdmin := env.seedUser(t, "foreign@test.com", models.RoleAdmin, "Harbor")
	root := env.seedUser(t, "root@test.com", models.RoleSuperAdmin, "")

	trace := env.fileTrace(t, victim, "CRY-2024-005", false)
	_, err := env.svc.AssignOfficer(ctx, victim.ID, assigned.ID, models.AssignedByAdmin, admin.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		user *models.User
		want Kind
	}{
		{"owner", victim, ""},
		{"assigned officer", assigned, ""},
		{"unrelated officer", other, KindForbidden},
		{"department admin", admin, ""},
		{"admin of another department", foreignAdmin, KindForbidden},
		{"super admin", root, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.svc.GetTrace(ctx, principal(tt.user), trace.ID)
			if tt.want == "" {
				require.NoError(t, err)
				assert.Equal(t, trace.ID, resp.Trace.ID)
				return
			}
			assertKind(t, err, tt.want)
		})
	}

	_, err = env.svc.GetTrace(ctx, principal(victim), "missing")
	assertKind(t, err, KindNotFound)
}

func TestListTracesByRole(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	officer := env.seedUser(t, "officer@test.com", models.RoleOfficer, "Metro")
	harbor := env.seedUser(t, "harbor@test.com", models.RoleVictim, "Harbor")
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")
	root := env.seedUser(t, "root@test.com", models.RoleSuperAdmin, "")

	env.fileTrace(t, victim, "V-1", false)
	env.fileTrace(t, officer, "O-1", false)
	env.fileTrace(t, harbor, "H-1", false)
	_, err := env.svc.AssignOfficer(ctx, victim.ID, officer.ID, models.AssignedByAdmin, admin.ID)
	require.NoError(t, err)

	cases := func(u *models.User) []string {
		resp, err := env.svc.ListTraces(ctx, principal(u))
		require.NoError(t, err)
		var out []string
		for _, tr := range resp.Traces {
			out = append(out, tr.CaseNumber)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"V-1"}, cases(victim))
	assert.ElementsMatch(t, []string{"V-1", "O-1"}, cases(officer))
	assert.ElementsMatch(t, []string{"V-1", "O-1"}, cases(admin))
	assert.ElementsMatch(t, []string{"V-1", "O-1", "H-1"}, cases(root))
}

func TestOnlyOwnerUpdatesStatus(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	admin := env.seedUser(t, "admin@test.com", models.RoleAdmin, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-006", false)

	_, err := env.svc.UpdateTraceStatus(ctx, principal(admin), trace.ID, statusReq(models.TraceQueued))
	assertKind(t, err, KindForbidden)

	_, err = env.svc.UpdateTraceStatus(ctx, principal(victim), "missing", statusReq(models.TraceQueued))
	assertKind(t, err, KindNotFound)

	_, err = env.svc.UpdateTraceStatus(ctx, principal(victim), trace.ID, models.UpdateTraceStatusRequest{Status: "archived"})
	assertKind(t, err, KindValidation)

	_, err = env.svc.UpdateTraceStatus(ctx, principal(victim), trace.ID, models.UpdateTraceStatusRequest{
		Status: models.TraceQueued, Results: json.RawMessage(`[1,2,3]`),
	})
	assertKind(t, err, KindValidation)

	resp, err := env.svc.PipelineUpdateStatus(ctx, trace.ID, statusReq(models.TraceQueued))
	require.NoError(t, err)
	assert.Equal(t, models.TraceQueued, resp.Trace.Status)

	events, err := env.repo.ListAuditEvents(ctx, repository.AuditFilter{TargetType: "trace", TargetID: trace.ID})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "trace.status_changed", events[0].Action)
	assert.Nil(t, events[0].ActorID)
	assert.Contains(t, events[0].Metadata, `"source":"pipeline"`)
}

func TestConcurrentStatusUpdatesApplyOnce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-007", false)
	_, err := env.svc.PipelineUpdateStatus(ctx, trace.ID, statusReq(models.TraceQueued))
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.PipelineUpdateStatus(ctx, trace.ID, statusReq(models.TraceProcessing))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertKind(t, err, KindConflict)
	}
	assert.Equal(t, 1, succeeded)

	events, err := env.repo.ListAuditEvents(ctx, repository.AuditFilter{TargetType: "trace", TargetID: trace.ID})
	require.NoError(t, err)
	assert.Len(t, events, 3, "created, queued, processing")
}

func TestAnalyzeTrace(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	other := env.seedUser(t, "other@test.com", models.RoleVictim, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-008", false)

	req := models.AnalyzeTraceRequest{Transactions: []string{"tx1", "tx2"}, Addresses: []string{"addr1"}}
	first, err := env.svc.AnalyzeTrace(ctx, principal(victim), trace.ID, req)
	require.NoError(t, err)
	second, err := env.svc.AnalyzeTrace(ctx, principal(victim), trace.ID, req)
	require.NoError(t, err)
	assert.Equal(t, first.Analysis, second.Analysis)
	assert.Equal(t, models.RiskHigh, first.Analysis.RiskLevel)

	_, err = env.svc.AnalyzeTrace(ctx, principal(other), trace.ID, req)
	assertKind(t, err, KindForbidden)

	env.analyzer.FailWith(errors.New("quota exceeded"))
	_, err = env.svc.AnalyzeTrace(ctx, principal(victim), trace.ID, req)
	assertKind(t, err, KindUpstream)

	stored, err := env.repo.GetTrace(ctx, trace.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TraceSubmitted, stored.Status)
	assert.Nil(t, stored.Results)
}

func TestExportReport(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-009", false)
	p := principal(victim)

	_, err := env.svc.ExportReport(ctx, p, trace.ID, "csv")
	assertKind(t, err, KindConflict)

	for _, next := range []models.TraceStatus{models.TraceQueued, models.TraceProcessing, models.TraceCompleted} {
		_, err := env.svc.PipelineUpdateStatus(ctx, trace.ID, statusReq(next))
		require.NoError(t, err)
	}

	_, err = env.svc.ExportReport(ctx, p, trace.ID, "pdf")
	assertKind(t, err, KindValidation)

	file, err := env.svc.ExportReport(ctx, p, trace.ID, "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Equal(t, "trace-CRY-2024-009.csv", file.Filename)
	assert.Contains(t, string(file.Data), "caseNumber,CRY-2024-009")
}
