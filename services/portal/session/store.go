// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session persists chat conversation history.
//
// The store's append operation takes the user turn and the assistant
// turn together and applies them atomically. Two concurrent exchanges
// on the same session serialize; neither is lost. A read-modify-write
// split across two calls would reintroduce the lost-update race this
// interface exists to prevent.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by Delete for an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Info summarizes a session for the admin surface.
type Info struct {
	SessionID    string    `json:"session_id"`
	Turns        int       `json:"turns"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists conversation turns.
type Store interface {
	// History returns the session's turns in order. An unknown session
	// yields an empty slice and nil error; chat treats absent history
	// as a fresh conversation.
	History(ctx context.Context, sessionID string) ([]Turn, error)

	// AppendExchange appends the user turn and the assistant turn as
	// one atomic operation, creating the session if absent.
	AppendExchange(ctx context.Context, sessionID, userText, assistantText string) error

	// List returns every session's summary.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a session. ErrSessionNotFound if absent.
	Delete(ctx context.Context, sessionID string) error
}
