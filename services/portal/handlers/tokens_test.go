package handlers

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeridianWorks/MeridianPortal/services/bi"
)

// mockBITransport records calls and serves a canned provider response.
type mockBITransport struct {
	status int
	body   string
	err    error
	calls  int
}

func (t *mockBITransport) Do(_ *http.Request) (*http.Response, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return &http.Response{
		StatusCode: t.status,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     make(http.Header),
	}, nil
}

func newTokenRouter(t *testing.T, identityTransport, embedTransport *mockBITransport) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	identity := bi.NewIdentityClient(bi.IdentityConfig{
		AuthHost:     "https://login.example.com",
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: memguard.NewEnclave([]byte("secret")),
		Scope:        "https://analysis.example.com/.default",
	})
	identity.SetHTTPClient(identityTransport)

	embed := bi.NewEmbedClient(bi.EmbedConfig{
		APIHost:     "https://api.example.com",
		WorkspaceID: "ws-1",
		ReportID:    "rep-1",
	})
	embed.SetHTTPClient(embedTransport)

	handler := NewTokenHandler(identity, embed)
	router := gin.New()
	router.POST("/auth-token", handler.HandleAuthToken)
	router.POST("/embed-token", handler.HandleEmbedToken)
	return router
}

func TestHandleAuthToken_RelaysProviderJSONVerbatim(t *testing.T) {
	providerJSON := `{"access_token":"abc123","token_type":"Bearer","expires_in":3599}`
	identityTransport := &mockBITransport{status: http.StatusOK, body: providerJSON}
	router := newTokenRouter(t, identityTransport, &mockBITransport{})

	req := httptest.NewRequest(http.MethodPost, "/auth-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, providerJSON, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, identityTransport.calls)
}

func TestHandleAuthToken_UpstreamRejectionCollapsesToGenericError(t *testing.T) {
	identityTransport := &mockBITransport{
		status: http.StatusUnauthorized,
		body:   `{"error":"invalid_client","error_description":"AADSTS7000215"}`,
	}
	router := newTokenRouter(t, identityTransport, &mockBITransport{})

	req := httptest.NewRequest(http.MethodPost, "/auth-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "failed to acquire auth token"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "AADSTS7000215")
}

func TestHandleAuthToken_TransportError(t *testing.T) {
	identityTransport := &mockBITransport{err: assert.AnError}
	router := newTokenRouter(t, identityTransport, &mockBITransport{})

	req := httptest.NewRequest(http.MethodPost, "/auth-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "failed to acquire auth token"}`, rec.Body.String())
}

func TestHandleEmbedToken_MissingAuthTokenMakesNoOutboundCall(t *testing.T) {
	embedTransport := &mockBITransport{status: http.StatusOK, body: `{}`}
	router := newTokenRouter(t, &mockBITransport{}, embedTransport)

	for _, body := range []string{`{}`, `{"authToken": ""}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/embed-token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.JSONEq(t, `{"error": "authToken is required"}`, rec.Body.String())
	}
	assert.Equal(t, 0, embedTransport.calls)
}

func TestHandleEmbedToken_RelaysProviderJSONVerbatim(t *testing.T) {
	providerJSON := `{"token":"embed-xyz","tokenId":"00000000-0000-0000-0000-000000000000","expiration":"2026-01-01T00:00:00Z"}`
	embedTransport := &mockBITransport{status: http.StatusOK, body: providerJSON}
	router := newTokenRouter(t, &mockBITransport{}, embedTransport)

	req := httptest.NewRequest(http.MethodPost, "/embed-token",
		bytes.NewBufferString(`{"authToken": "bearer-token"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, providerJSON, rec.Body.String())
	assert.Equal(t, 1, embedTransport.calls)
}

func TestHandleEmbedToken_UpstreamFailureHidesProviderBody(t *testing.T) {
	embedTransport := &mockBITransport{
		status: http.StatusForbidden,
		body:   `{"error":{"code":"PowerBINotAuthorizedException"}}`,
	}
	router := newTokenRouter(t, &mockBITransport{}, embedTransport)

	req := httptest.NewRequest(http.MethodPost, "/embed-token",
		bytes.NewBufferString(`{"authToken": "bearer-token"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "failed to generate embed token"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "PowerBINotAuthorizedException")
}
