// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EmbedClient generates view-level report embed tokens from the BI API.
type EmbedClient struct {
	httpClient  HTTPClient
	apiHost     string
	workspaceID string
	reportID    string
}

// EmbedConfig carries the resolved BI report coordinates.
type EmbedConfig struct {
	APIHost     string
	WorkspaceID string
	ReportID    string
}

// NewEmbedClient builds an embed-token client.
func NewEmbedClient(cfg EmbedConfig) *EmbedClient {
	return &EmbedClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiHost:     strings.TrimRight(cfg.APIHost, "/"),
		workspaceID: cfg.WorkspaceID,
		reportID:    cfg.ReportID,
	}
}

// SetHTTPClient swaps the transport. Used by tests.
func (c *EmbedClient) SetHTTPClient(httpClient HTTPClient) {
	c.httpClient = httpClient
}

// GenerateEmbedToken requests a View-level embed token for the
// configured report, authorized by the caller's identity token.
//
// # Outputs
//
//   - []byte: Raw provider JSON (embed token or provider error body).
//   - int: Upstream HTTP status.
//   - error: Non-nil on transport failure only.
func (c *EmbedClient) GenerateEmbedToken(ctx context.Context, bearer string) ([]byte, int, error) {
	endpoint := fmt.Sprintf("%s/v1.0/myorg/groups/%s/reports/%s/GenerateToken",
		c.apiHost, c.workspaceID, c.reportID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(`{"accessLevel":"View"}`))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create embed token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("embed token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read embed token response: %w", err)
	}
	return body, resp.StatusCode, nil
}
