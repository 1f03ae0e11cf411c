package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/booking?sslmode=disable")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WEBHOOK_TARGET_URL", "https://example.com/webhook")
	t.Setenv("WEBHOOK_SECRET", "whsec")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 20, cfg.OutboxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, 15*time.Second, cfg.WebhookHTTPTimeout)
	assert.True(t, cfg.OutboxEnabled)
	assert.True(t, cfg.AutoMigrate)
	assert.False(t, cfg.SeedDemo)
}

func TestLoad_MissingDB(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_ADDR", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_OutboxRequiresWebhookConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OUTBOX_ENABLED", "true")
	t.Setenv("WEBHOOK_TARGET_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_TARGET_URL")

	// disabling the dispatcher lifts the requirement
	t.Setenv("OUTBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.OutboxEnabled)
}

func TestLoad_SeedRefusedInProd(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SEED_DEMO", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEED_DEMO")
}

func TestLoad_BuildsDSNFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_ADDR", "db:5432")
	t.Setenv("POSTGRES_USER", "booking")
	t.Setenv("POSTGRES_PASSWORD", "p@ss/word")
	t.Setenv("POSTGRES_DB", "booking")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OUTBOX_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.DBDSN, "postgres://")
	assert.Contains(t, cfg.DBDSN, "db:5432")
	assert.Contains(t, cfg.DBDSN, "sslmode=disable")
	// special characters survive URL building
	assert.Contains(t, cfg.DBDSN, "p%40ss%2Fword")
}
