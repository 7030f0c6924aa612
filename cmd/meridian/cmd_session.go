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
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeridianWorks/MeridianPortal/pkg/ux"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
)

func runListSessions(cmd *cobra.Command, args []string) {
	baseURL := portalBaseURL()

	resp, err := http.Get(baseURL + "/v1/sessions")
	if err != nil {
		log.Fatalf("Failed to connect to the portal: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Portal returned an error: %s", resp.Status)
	}

	var result struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Failed to parse the response from the portal: %v", err)
	}

	if len(result.Sessions) == 0 {
		fmt.Println("No active sessions found.")
		return
	}

	ux.Title("Active sessions")
	for _, s := range result.Sessions {
		fmt.Printf("%s  %s %s\n",
			s.SessionID,
			ux.Styles.Muted.Render(fmt.Sprintf("%d turns,", s.Turns)),
			ux.Styles.Muted.Render("last "+s.LastActivity.Format(time.RFC3339)),
		)
	}
}

func runSessionHistory(cmd *cobra.Command, args []string) {
	baseURL := portalBaseURL()
	sessionID := args[0]

	resp, err := http.Get(fmt.Sprintf("%s/v1/sessions/%s/history", baseURL, sessionID))
	if err != nil {
		log.Fatalf("Failed to connect to the portal: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Portal returned an error: %s", resp.Status)
	}

	var result struct {
		SessionID string         `json:"sessionId"`
		Turns     []session.Turn `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Failed to parse the response from the portal: %v", err)
	}

	if len(result.Turns) == 0 {
		fmt.Println("No stored turns for this session.")
		return
	}

	ux.Title(fmt.Sprintf("Session %s", result.SessionID))
	for _, turn := range result.Turns {
		if turn.Role == session.RoleUser {
			fmt.Printf("%s %s\n", ux.Styles.Highlight.Render(">"), turn.Content)
		} else {
			fmt.Println(turn.Content)
		}
	}
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	baseURL := portalBaseURL()
	sessionID := args[0]

	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/v1/sessions/%s", baseURL, sessionID), nil)
	if err != nil {
		log.Fatalf("Failed to create the delete request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Failed to send the delete request to the portal: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Portal returned an error: %s", resp.Status)
	}

	ux.Success(fmt.Sprintf("Deleted session %s", sessionID))
}
