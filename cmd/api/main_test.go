package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/config"
	"mailfan/internal/core"
)

// setTestEnv sets the minimal environment config.LoadConfig requires.
// t.Setenv restores prior values automatically.
func setTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("PUBLIC_BASE_URL", "https://mail.example.com")
	t.Setenv("EMAIL_FROM_ADDRESS", "noreply@example.com")
	t.Setenv("BROKER_PUBLISH_URL", "https://broker.example.com/v1/publish")
	t.Setenv("BROKER_TOKEN", "brk_token_abc")
	t.Setenv("BROKER_SIGNING_KEY", "sig_current_key")
	t.Setenv("DIRECTORY_BASE_URL", "https://directory.example.com")
	t.Setenv("DIRECTORY_TOKEN", "dir_token_abc")
	t.Setenv("API_TOKEN", "dashboard_token_0123456789")
}

// buildTestServer wires a server from real config with no health probes, for
// infrastructure-route tests that never reach Redis or AWS.
func buildTestServer(t *testing.T) *core.Server {
	t.Helper()
	setTestEnv(t)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	srv, err := core.NewServer(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	srv.MountRoutes()
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := buildTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		t.Run(level, func(t *testing.T) {
			assert.NotNil(t, newLogger(level))
		})
	}
}

func TestLoadAWSConfig_LocalEndpoint(t *testing.T) {
	setTestEnv(t)
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	awsCfg, err := loadAWSConfig(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)
	require.NotNil(t, awsCfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *awsCfg.BaseEndpoint)
}
