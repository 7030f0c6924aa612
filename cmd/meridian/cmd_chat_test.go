package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamChat_WritesFragmentsInOrder(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"The ", "Ingest ", "project."} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer server.Close()

	var out bytes.Buffer
	firstChunkSeen := false
	err := streamChat(context.Background(), server.Client(), server.URL,
		"session-1", "what is ingest?", &out,
		func() { firstChunkSeen = true })

	require.NoError(t, err)
	assert.Equal(t, "The Ingest project.", out.String())
	assert.True(t, firstChunkSeen)
	assert.Equal(t, "what is ingest?", gotReq.Message)
	assert.Equal(t, "session-1", gotReq.SessionID)
}

func TestStreamChat_NonOKStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "chat stream failed"}`))
	}))
	defer server.Close()

	var out bytes.Buffer
	err := streamChat(context.Background(), server.Client(), server.URL,
		"session-1", "hello", &out, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Empty(t, out.String(), "error bodies are not streamed as reply text")
}

func TestStreamChat_ContextCancelStopsTheStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	var out bytes.Buffer
	err := streamChat(ctx, server.Client(), server.URL, "session-1", "hello", &out, nil)

	assert.Error(t, err)
	assert.Equal(t, "partial", out.String())
}
