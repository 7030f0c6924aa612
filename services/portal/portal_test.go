package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeridianWorks/MeridianPortal/services/llm"
	"github.com/MeridianWorks/MeridianPortal/services/portal/config"
	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubLLM satisfies llm.LLMClient for wiring tests.
type stubLLM struct{}

func (stubLLM) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (stubLLM) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, _ llm.StreamCallback) ([]llm.ToolInvocation, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "8080",
		BIAuthHost:     "https://login.example.com",
		BITenantID:     "tenant",
		BIClientID:     "client",
		BIClientSecret: memguard.NewEnclave([]byte("secret")),
		BITokenScope:   "https://analysis.example.com/.default",
		BIAPIHost:      "https://api.example.com",
		BIWorkspaceID:  "ws",
		BIReportID:     "rep",
		DatasetPath:    "/tmp/dataset.csv",
		MaxContextBytes: config.DefaultMaxContextBytes,
		SessionBackend: config.SessionBackendMemory,
	}
}

func newTestService(t *testing.T) Service {
	t.Helper()
	svc, err := newService(
		testConfig(),
		stubLLM{},
		nil,
		session.NewMemoryStore(),
		dataset.NewStore(dataset.Empty("/tmp/dataset.csv")),
	)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresDependencies(t *testing.T) {
	store := session.NewMemoryStore()
	datasets := dataset.NewStore(dataset.Empty("x"))

	_, err := newService(nil, stubLLM{}, nil, store, datasets)
	assert.Error(t, err)

	_, err = newService(testConfig(), nil, nil, store, datasets)
	assert.Error(t, err)

	_, err = newService(testConfig(), stubLLM{}, nil, nil, datasets)
	assert.Error(t, err)

	_, err = newService(testConfig(), stubLLM{}, nil, store, nil)
	assert.Error(t, err)
}

func TestService_HealthRoute(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "dataset_records": 0}`, rec.Body.String())
}

func TestService_PreflightAnyPath(t *testing.T) {
	svc := newTestService(t)

	for _, path := range []string{"/chat", "/auth-token", "/no/such/route"} {
		rec := httptest.NewRecorder()
		svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, path, nil))

		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Body.String())
	}
}

func TestService_EmbedTokenValidation(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/embed-token", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "authToken is required"}`, rec.Body.String())
}

func TestService_RunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Port = "0"
	svc, err := newService(cfg, stubLLM{}, nil, session.NewMemoryStore(),
		dataset.NewStore(dataset.Empty("x")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()
	cancel()

	assert.NoError(t, <-done)
}
