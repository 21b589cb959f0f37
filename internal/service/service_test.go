package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/analysis"
	"github.com/rongwang/cryptotrace-server/internal/config"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/payment"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "password123"

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      *DefaultService
	repo     *repository.SQLRepository
	payments *payment.Fake
	analyzer *analysis.Fake
	clock    *testClock
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "service_test.db")

	db, err := config.SetupDatabase(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		repo:     repository.NewSQLRepository(db),
		payments: payment.NewFake(""),
		analyzer: analysis.NewFake(),
		clock:    &testClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
	}
	env.svc = NewDefaultService(env.repo, env.payments, env.analyzer, zaptest.NewLogger(t), Options{
		JWTSecret:         "test-secret",
		PremiumPriceCents: 4999,
		Now:               env.clock.Now,
	})
	return env
}

// seedUser creates a claimed account directly in storage
func (e *testEnv) seedUser(t *testing.T, email string, role models.Role, dept string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		Email:      email,
		Name:       email,
		Password:   string(hash),
		Role:       role,
		Department: dept,
		IsActive:   true,
	}
	require.NoError(t, e.repo.CreateUser(context.Background(), user))
	return user
}

func principal(u *models.User) models.Principal {
	return models.Principal{UserID: u.ID, Role: u.Role, Department: u.Department}
}

func (e *testEnv) fileTrace(t *testing.T, owner *models.User, caseNumber string, premium bool) *models.Trace {
	t.Helper()
	resp, err := e.svc.CreateTrace(context.Background(), principal(owner), models.CreateTraceRequest{
		CaseNumber:    caseNumber,
		CryptoType:    "BTC",
		WalletAddress: "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
		VictimName:    "Jane Doe",
		IncidentDate:  "2024-03-01",
		Description:   "Phishing site drained the wallet",
		IsPremium:     premium,
	})
	require.NoError(t, err)
	return resp.Trace
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(notFound("trace")))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("outer: %w", conflict("inner"))))
}

func TestParseDate(t *testing.T) {
	d, ok := parseDate("2024-03-01")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	d, ok = parseDate("2024-03-01T10:00:00+02:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), d)

	_, ok = parseDate("01/03/2024")
	assert.False(t, ok)
}

func TestAuditEventsAreRecorded(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	victim := env.seedUser(t, "victim@test.com", models.RoleVictim, "Metro")
	trace := env.fileTrace(t, victim, "CRY-2024-010", false)

	events, err := env.repo.ListAuditEvents(ctx, repository.AuditFilter{TargetType: "trace", TargetID: trace.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "trace.created", events[0].Action)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, victim.ID, *events[0].ActorID)
}
