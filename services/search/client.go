// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package search provides a typed client for the web search API used to
// pull supporting context into chat replies.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// HTTPClient allows mocking of http.Client in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is one ranked hit from the search provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Client queries the configured search endpoint.
type Client struct {
	httpClient HTTPClient
	baseURL    string
	apiKey     string
}

// NewClient builds a search client from SEARCH_API_URL and
// SEARCH_API_KEY. An empty URL yields a nil client and no error; chat
// then runs without the search tool.
func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("SEARCH_API_URL"))
	if baseURL == "" {
		slog.Warn("SEARCH_API_URL not set, web search disabled")
		return nil, nil
	}
	apiKey := strings.TrimSpace(os.Getenv("SEARCH_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("SEARCH_API_KEY not set but SEARCH_API_URL is")
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}, nil
}

// NewClientWithHTTP builds a client around an injected transport.
// Used by tests.
func NewClientWithHTTP(httpClient HTTPClient, baseURL, apiKey string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}
}

// Search runs one query and returns the provider's ranked results.
//
// # Inputs
//
//   - ctx: Request context; cancellation aborts the call.
//   - query: Free-text search query.
//
// # Outputs
//
//   - []Result: Ranked results, best first. May be empty.
//   - error: Non-nil on transport failure or a non-2xx status. The
//     provider's error body is logged, never returned.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	endpoint := fmt.Sprintf("%s?q=%s", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Search provider returned an error",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return parsed.Results, nil
}
