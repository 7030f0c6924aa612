// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeridianWorks/MeridianPortal/services/bi"
	"github.com/MeridianWorks/MeridianPortal/services/portal/datatypes"
	"github.com/MeridianWorks/MeridianPortal/services/portal/observability"
)

// =============================================================================
// Interface Definition
// =============================================================================

// TokenHandler defines the contract for the BI token proxy endpoints.
//
// # Description
//
// The portal fronts two provider operations so the browser never holds
// service credentials: acquiring an identity token via client
// credentials, and exchanging it for a report embed token. Successful
// provider responses are relayed verbatim; failures collapse to generic
// JSON errors with the provider body kept in server logs only.
//
// # Limitations
//
//   - No retries, no caching, no rate limiting on either operation
type TokenHandler interface {
	// HandleAuthToken processes POST /auth-token requests.
	HandleAuthToken(c *gin.Context)

	// HandleEmbedToken processes POST /embed-token requests.
	HandleEmbedToken(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// tokenHandler implements TokenHandler over the bi clients.
type tokenHandler struct {
	identity *bi.IdentityClient
	embed    *bi.EmbedClient
	tracer   trace.Tracer
}

// NewTokenHandler creates a TokenHandler.
//
// # Inputs
//
//   - identity: Identity token client. Must not be nil.
//   - embed: Embed token client. Must not be nil.
//
// # Limitations
//
//   - Panics on nil clients (programming errors).
func NewTokenHandler(identity *bi.IdentityClient, embed *bi.EmbedClient) TokenHandler {
	if identity == nil {
		panic("NewTokenHandler: identity must not be nil")
	}
	if embed == nil {
		panic("NewTokenHandler: embed must not be nil")
	}

	return &tokenHandler{
		identity: identity,
		embed:    embed,
		tracer:   otel.Tracer("meridian.portal.handlers.tokens"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleAuthToken processes POST /auth-token requests.
//
// # Description
//
// Calls the provider's client-credentials endpoint. On upstream 2xx the
// provider JSON is relayed verbatim with status 200. Transport errors
// and non-2xx upstream statuses both collapse to
// 500 {"error": "failed to acquire auth token"}; the upstream body is
// logged server-side, never echoed.
func (h *tokenHandler) HandleAuthToken(c *gin.Context) {
	endpoint := observability.EndpointAuthToken

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAuthToken")
	defer span.End()

	body, status, err := h.identity.AcquireToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token acquisition failed")
		slog.Error("Identity token acquisition failed", "error", err)
		h.recordProxy(endpoint, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acquire auth token"})
		return
	}

	if status < 200 || status > 299 {
		span.SetStatus(codes.Error, "upstream rejected token request")
		slog.Error("Identity provider rejected token request",
			"status", status,
			"upstream_body", string(body),
		)
		h.recordProxy(endpoint, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acquire auth token"})
		return
	}

	h.recordProxy(endpoint, true)
	c.Data(http.StatusOK, "application/json", body)
}

// HandleEmbedToken processes POST /embed-token requests.
//
// # Description
//
// Validates the request, then exchanges the caller's identity token for
// a report embed token. A missing or empty authToken fails fast with
// 400 {"error": "authToken is required"} and no outbound call. Upstream
// 2xx relays the provider JSON verbatim; anything else collapses to
// 500 {"error": "failed to generate embed token"}.
func (h *tokenHandler) HandleEmbedToken(c *gin.Context) {
	endpoint := observability.EndpointEmbedToken

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleEmbedToken")
	defer span.End()

	var req datatypes.EmbedTokenRequest
	if err := c.BindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse embed token request", "error", err)
		h.recordProxy(endpoint, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "authToken is required"})
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		h.recordProxy(endpoint, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "authToken is required"})
		return
	}

	body, status, err := h.embed.GenerateEmbedToken(ctx, req.AuthToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed token generation failed")
		slog.Error("Embed token generation failed", "error", err)
		h.recordProxy(endpoint, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate embed token"})
		return
	}

	if status < 200 || status > 299 {
		span.SetStatus(codes.Error, "upstream rejected embed token request")
		slog.Error("BI provider rejected embed token request",
			"status", status,
			"upstream_body", string(body),
		)
		h.recordProxy(endpoint, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate embed token"})
		return
	}

	h.recordProxy(endpoint, true)
	c.Data(http.StatusOK, "application/json", body)
}

func (h *tokenHandler) recordProxy(endpoint observability.Endpoint, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordProxyRequest(endpoint, success)
	}
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ TokenHandler = (*tokenHandler)(nil)
