// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the portal
// service.
package datatypes

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	// Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// portalValidate is the validator instance for portal datatypes.
// Initialized in init() with custom validators.
var portalValidate *validator.Validate

func init() {
	portalValidate = validator.New()
	_ = portalValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized
// payloads are rejected before they reach the model provider.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest is the body of POST /chat.
//
// # Fields
//
//   - Message: Required. The user's question. Limited to 32KB.
//   - SessionID: Optional. Conversation to continue; a fresh UUID is
//     generated when absent, so every exchange lands in some session.
type ChatRequest struct {
	Message   string `json:"message" validate:"required,maxbytes"`
	SessionID string `json:"sessionId"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return portalValidate.Struct(r)
}

// EnsureDefaults populates the session ID when the client omitted it.
func (r *ChatRequest) EnsureDefaults() {
	if r.SessionID == "" {
		r.SessionID = uuid.New().String()
	}
}

// =============================================================================
// Token Proxy Types
// =============================================================================

// EmbedTokenRequest is the body of POST /embed-token. The identity
// token acquired from /auth-token authorizes the embed generation.
type EmbedTokenRequest struct {
	AuthToken string `json:"authToken" validate:"required"`
}

// Validate validates the EmbedTokenRequest fields.
func (r *EmbedTokenRequest) Validate() error {
	return portalValidate.Struct(r)
}
