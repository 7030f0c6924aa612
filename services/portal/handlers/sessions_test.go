package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
)

func newSessionRouter(t *testing.T, store session.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/sessions", ListSessions(store))
	router.GET("/v1/sessions/:sessionId/history", SessionHistory(store))
	router.DELETE("/v1/sessions/:sessionId", DeleteSession(store))
	return router
}

func TestListSessions(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.AppendExchange(context.Background(), "sess-1", "q", "a"))
	router := newSessionRouter(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "sess-1", resp.Sessions[0].SessionID)
	assert.Equal(t, 2, resp.Sessions[0].Turns)
}

func TestSessionHistory(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.AppendExchange(context.Background(), "sess-1", "question", "answer"))
	router := newSessionRouter(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID string         `json:"sessionId"`
		Turns     []session.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, "question", resp.Turns[0].Content)
	assert.Equal(t, "answer", resp.Turns[1].Content)
}

func TestSessionHistory_UnknownSessionReturnsEmptyTurns(t *testing.T) {
	router := newSessionRouter(t, session.NewMemoryStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"turns"`)
}

func TestDeleteSession(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.AppendExchange(context.Background(), "sess-1", "q", "a"))
	router := newSessionRouter(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess-1")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth_ReportsDatasetRecords(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ds := dataset.NewStore(&dataset.Dataset{
		Records: []dataset.Record{{ID: "1"}, {ID: "2"}, {ID: "3"}},
	})
	router := gin.New()
	router.GET("/health", HandleHealth(ds))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "dataset_records": 3}`, rec.Body.String())
}
