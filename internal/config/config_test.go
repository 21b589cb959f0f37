package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "fake", cfg.Payments.Provider)
	assert.Less(t, cfg.Traces.PremiumETA, cfg.Traces.StandardETA)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
server:
  port: 9090
  shutdown_timeout: 3s
database:
  driver: sqlite
  path: /tmp/trace.db
auth:
  jwt_secret: from-file
  token_ttl: 2h
payments:
  premium_price_cents: 1500
`), 0o600)
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("TRACE_PREMIUM_ETA", "6h")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, int64(1500), cfg.Payments.PremiumPriceCents)
	assert.Equal(t, 6*time.Hour, cfg.Traces.PremiumETA)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("SERVER_READ_TIMEOUT", "soon")
	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "SERVER_READ_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Payments.Provider = "stripe"
	cfg.Analysis.Provider = "genai"
	cfg.Database.Driver = "oracle"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "stripe provider")
	assert.ErrorContains(t, err, "genai provider")
	assert.ErrorContains(t, err, "oracle")
}

func TestSQLiteDSN(t *testing.T) {
	cfg := DatabaseConfig{Driver: DriverSQLite, Path: "/data/trace.db"}
	assert.Equal(t, "file:/data/trace.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.GetDSN())
}

func TestSetupDatabaseMigratesSQLite(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = DriverSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "cryptotrace_test.db")

	ctx := context.Background()
	db, err := SetupDatabase(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	var tables []string
	err = db.SelectContext(ctx, &tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'goose%' AND name NOT LIKE 'sqlite%' ORDER BY name`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"audit_events", "departments", "payment_records", "police_case_submissions",
		"signup_tokens", "traces", "users", "victim_officer_assignments",
	}, tables)

	// Running again is a no-op
	version, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}
