// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bi holds the typed clients for the BI provider: the identity
// endpoint that issues client-credentials tokens and the report endpoint
// that generates view-level embed tokens. Both relay the provider's JSON
// verbatim; interpretation belongs to the portal frontend.
package bi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// HTTPClient allows mocking of http.Client in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// IdentityClient acquires OAuth client-credentials tokens from the
// tenant-scoped identity provider.
type IdentityClient struct {
	httpClient   HTTPClient
	authHost     string
	tenantID     string
	clientID     string
	clientSecret *memguard.Enclave
	scope        string
}

// IdentityConfig carries the resolved identity-provider settings.
// ClientSecret stays sealed in its enclave until request time.
type IdentityConfig struct {
	AuthHost     string
	TenantID     string
	ClientID     string
	ClientSecret *memguard.Enclave
	Scope        string
}

// NewIdentityClient builds an identity client. Panics on a nil secret
// enclave; config validation runs before this is called.
func NewIdentityClient(cfg IdentityConfig) *IdentityClient {
	if cfg.ClientSecret == nil {
		panic("bi: IdentityClient requires a client secret enclave")
	}
	return &IdentityClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		authHost:     strings.TrimRight(cfg.AuthHost, "/"),
		tenantID:     cfg.TenantID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        cfg.Scope,
	}
}

// SetHTTPClient swaps the transport. Used by tests.
func (c *IdentityClient) SetHTTPClient(httpClient HTTPClient) {
	c.httpClient = httpClient
}

// AcquireToken requests a client-credentials token.
//
// # Description
//
// POSTs the standard OAuth2 form to the tenant token endpoint and
// returns the provider's response bytes and status untouched. The
// client secret is opened from its enclave for the duration of the
// request body build and destroyed immediately after.
//
// # Outputs
//
//   - []byte: Raw provider JSON (token or provider error body).
//   - int: Upstream HTTP status.
//   - error: Non-nil on secret access or transport failure only; a
//     non-2xx upstream status is reported via the int, not the error.
func (c *IdentityClient) AcquireToken(ctx context.Context) ([]byte, int, error) {
	secret, err := c.clientSecret.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open client secret: %w", err)
	}
	defer secret.Destroy()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", secret.String())
	form.Set("scope", c.scope)

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authHost, c.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read token response: %w", err)
	}
	return body, resp.StatusCode, nil
}
