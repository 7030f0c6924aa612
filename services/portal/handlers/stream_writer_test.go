package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamWriter_ConcatenationEqualsInput(t *testing.T) {
	rec := httptest.NewRecorder()
	SetStreamHeaders(rec)
	writer, err := NewStreamWriter(rec)
	require.NoError(t, err)

	for _, fragment := range []string{"The ", "answer", " is", " 42."} {
		require.NoError(t, writer.WriteFragment(fragment))
	}

	assert.Equal(t, "The answer is 42.", rec.Body.String())
	assert.Equal(t, 4, writer.FragmentCount())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)
}

func TestStreamWriter_ErrorMarkerDoesNotCountAsFragment(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewStreamWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteFragment("partial"))
	require.NoError(t, writer.WriteErrorMarker())

	assert.Equal(t, "partial"+StreamErrorMarker, rec.Body.String())
	assert.Equal(t, 1, writer.FragmentCount())
}

func TestStreamWriter_RawBytesUnframed(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewStreamWriter(rec)
	require.NoError(t, err)

	// Fragments containing newlines and JSON-ish text pass through
	// untouched; there is no SSE framing on this endpoint.
	require.NoError(t, writer.WriteFragment("line one\nline two"))
	require.NoError(t, writer.WriteFragment(`{"not": "an event"}`))

	assert.Equal(t, "line one\nline two{\"not\": \"an event\"}", rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "data:")
}
