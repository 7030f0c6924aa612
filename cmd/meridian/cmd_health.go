// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeridianWorks/MeridianPortal/pkg/ux"
)

type healthReport struct {
	Status         string `json:"status"`
	DatasetRecords int    `json:"dataset_records"`
}

// fetchHealth calls the portal health endpoint.
func fetchHealth(client *http.Client, baseURL string) (*healthReport, error) {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("failed to reach the portal: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read the health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal returned status %d", resp.StatusCode)
	}

	var report healthReport
	if err := json.Unmarshal(bodyBytes, &report); err != nil {
		return nil, fmt.Errorf("failed to parse the health response: %w", err)
	}
	return &report, nil
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	baseURL := portalBaseURL()
	client := &http.Client{Timeout: 10 * time.Second}

	report, err := fetchHealth(client, baseURL)
	if err != nil {
		ux.Error(fmt.Sprintf("Health check failed: %v", err))
		os.Exit(1)
	}

	if healthJSONOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ux.Title("Meridian portal health")
	if report.Status == "ok" {
		ux.Success(fmt.Sprintf("Portal at %s is up", baseURL))
	} else {
		ux.Warning(fmt.Sprintf("Portal at %s reports status %q", baseURL, report.Status))
	}
	ux.KeyValue("dataset records", fmt.Sprintf("%d", report.DatasetRecords))

	if report.DatasetRecords == 0 {
		ux.Warning("The dataset is empty. Chat will answer out of scope until a reload succeeds.")
	}
}
