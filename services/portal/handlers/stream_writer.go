// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"sync"
)

// StreamErrorMarker is appended to an in-flight response when the
// upstream stream fails after fragments have already been sent. The
// response status is committed by then, so the marker is the only way
// to tell the client the reply is incomplete.
const StreamErrorMarker = "\n[stream error: the reply could not be completed]"

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter defines the contract for relaying chat reply fragments
// to an HTTP response as raw chunked text.
//
// # Description
//
// The chat endpoint streams the assistant reply as plain text chunks,
// one fragment per write, flushed immediately. There is no event
// framing; the client renders bytes as they arrive and the
// concatenation of all fragments is the full reply.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The chat handler
// may write fragments and the error marker from different goroutines.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter
//   - Response headers must be set before the first write
type StreamWriter interface {
	// WriteFragment writes one reply fragment and flushes it.
	WriteFragment(fragment string) error

	// WriteErrorMarker appends StreamErrorMarker to the response.
	// Used when the stream fails after fragments were already sent.
	WriteErrorMarker() error

	// FragmentCount returns the number of fragments written so far.
	FragmentCount() int
}

// =============================================================================
// Struct Definition
// =============================================================================

// chunkedStreamWriter implements StreamWriter over an http.ResponseWriter.
type chunkedStreamWriter struct {
	writer    http.ResponseWriter
	flusher   http.Flusher
	fragments int
	mu        sync.Mutex
}

// NewStreamWriter creates a StreamWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - StreamWriter: Ready to relay fragments.
//   - error: Non-nil if the ResponseWriter does not support flushing.
//
// # Assumptions
//
//   - Caller has set stream headers via SetStreamHeaders()
func NewStreamWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &chunkedStreamWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteFragment writes one fragment and flushes immediately.
func (w *chunkedStreamWriter) WriteFragment(fragment string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, fragment); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}

	w.fragments++
	w.flusher.Flush()
	return nil
}

// WriteErrorMarker appends the inline error marker and flushes.
func (w *chunkedStreamWriter) WriteErrorMarker() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, StreamErrorMarker); err != nil {
		return fmt.Errorf("write error marker: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// FragmentCount returns the number of fragments written so far.
func (w *chunkedStreamWriter) FragmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fragments
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetStreamHeaders configures HTTP response headers for chunked text
// streaming.
//
// # Description
//
// Sets the headers for the raw-chunk reply stream:
//   - Content-Type: text/plain; charset=utf-8
//   - Cache-Control: no-cache
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamWriter = (*chunkedStreamWriter)(nil)
