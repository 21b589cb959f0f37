package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/rongwang/cryptotrace-server/internal/analysis"
	"github.com/rongwang/cryptotrace-server/internal/api"
	"github.com/rongwang/cryptotrace-server/internal/config"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/payment"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"github.com/rongwang/cryptotrace-server/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TestPassword is the password of every seeded user
	TestPassword = "testpassword"
	// PipelineToken authenticates pipeline calls in tests
	PipelineToken = "pipeline-secret"
	// WebhookSecret signs fake payment webhooks in tests
	WebhookSecret = "webhook-secret"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.SQLRepository
	Service    service.Service
	Payments   *payment.Fake
	Analyzer   *analysis.Fake
	DB         *sqlx.DB
}

// TestUser is a seeded account with a live session token
type TestUser struct {
	*models.User
	JWT string
}

// SetupTestContext creates a new test context backed by a temporary SQLite
// database. Everything is released when the test ends.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "api_test.db")
	cfg.Auth.JWTSecret = "test-secret-key"

	// Set up database
	db, err := config.SetupDatabase(context.Background(), cfg)
	require.NoError(t, err, "Failed to set up test database")
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	repo := repository.NewSQLRepository(db)
	payments := payment.NewFake(WebhookSecret)
	analyzer := analysis.NewFake()

	svc := service.NewDefaultService(repo, payments, analyzer, logger, service.Options{
		JWTSecret:         cfg.Auth.JWTSecret,
		PremiumPriceCents: cfg.Payments.PremiumPriceCents,
		Currency:          cfg.Payments.Currency,
	})

	// Set up Gin router
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api.NewHandler(svc, logger, api.Config{PipelineToken: PipelineToken}).SetupRoutes(router)

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		Payments:   payments,
		Analyzer:   analyzer,
		DB:         db,
	}
}

// CreateUser seeds a claimed, active user and logs it in
func (tc *TestContext) CreateUser(t *testing.T, email string, role models.Role, department string) *TestUser {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		Email:       email,
		Name:        "Test " + string(role),
		Password:    string(hashedPassword),
		Role:        role,
		Department:  department,
		IsActive:    true,
	}
	require.NoError(t, tc.Repository.CreateUser(context.Background(), user), "Failed to create test user")

	resp, err := tc.Service.Login(context.Background(), models.LoginRequest{Email: email, Password: TestPassword})
	require.NoError(t, err, "Failed to log in test user")

	return &TestUser{User: user, JWT: resp.Token}
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case []byte:
		reqBody = bytes.NewBuffer(b)
	default:
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// PipelineHeaders authenticates as the analysis pipeline
func PipelineHeaders() map[string]string {
	return map[string]string{api.PipelineTokenHeader: PipelineToken}
}

// WebhookHeaders signs a fake payment webhook
func WebhookHeaders() map[string]string {
	return map[string]string{payment.FakeSignatureHeader: WebhookSecret}
}

// DecodeJSON unmarshals a response body
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}
