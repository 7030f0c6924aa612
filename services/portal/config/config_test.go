package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setCompleteEnv fills every variable Validate requires.
func setCompleteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BI_AUTH_HOST", "https://login.example.com")
	t.Setenv("BI_TENANT_ID", "tenant-1")
	t.Setenv("BI_CLIENT_ID", "client-1")
	t.Setenv("BI_CLIENT_SECRET", "s3cret")
	t.Setenv("BI_TOKEN_SCOPE", "https://analysis.example.com/.default")
	t.Setenv("BI_API_HOST", "https://api.example.com")
	t.Setenv("BI_WORKSPACE_ID", "ws-1")
	t.Setenv("BI_REPORT_ID", "rep-1")
	t.Setenv("DATASET_PATH", "/data/projects.csv")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	setCompleteEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DefaultMaxContextBytes, cfg.MaxContextBytes)
	assert.Equal(t, SessionBackendMemory, cfg.SessionBackend)
	assert.Equal(t, time.Duration(0), cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.SessionSweepInterval)
	assert.Zero(t, cfg.ChatRateLimitRPS)
	assert.False(t, cfg.DatasetWatch)
	require.NoError(t, cfg.Validate())
}

func TestLoad_SecretGoesIntoEnclave(t *testing.T) {
	setCompleteEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.BIClientSecret)

	opened, err := cfg.BIClientSecret.Open()
	require.NoError(t, err)
	defer opened.Destroy()
	assert.Equal(t, "s3cret", opened.String())
}

func TestValidate_ReportsMissingFields(t *testing.T) {
	setCompleteEnv(t)
	t.Setenv("BI_CLIENT_ID", "")
	t.Setenv("BI_REPORT_ID", "")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIClientID")
	assert.Contains(t, err.Error(), "BIReportID")
}

func TestValidate_BadgerNeedsDBPath(t *testing.T) {
	setCompleteEnv(t)
	t.Setenv("SESSION_BACKEND", "badger")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	t.Setenv("SESSION_DB_PATH", "/var/lib/meridian/sessions")
	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	setCompleteEnv(t)

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad bool", "DATASET_WATCH", "sometimes"},
		{"bad int", "DATASET_MAX_CONTEXT_BYTES", "lots"},
		{"bad duration", "SESSION_TTL", "90minutes"},
		{"bad float", "CHAT_RATE_LIMIT_RPS", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_ParsesOverrides(t *testing.T) {
	setCompleteEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATASET_WATCH", "true")
	t.Setenv("DATASET_MAX_CONTEXT_BYTES", "1024")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("CHAT_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.DatasetWatch)
	assert.Equal(t, 1024, cfg.MaxContextBytes)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 2.5, cfg.ChatRateLimitRPS)
}
