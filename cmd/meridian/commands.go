// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeridianWorks/MeridianPortal/cmd/meridian/config"
)

var (
	rootCmd = &cobra.Command{
		Use:   "meridian",
		Short: "A CLI to operate the Meridian BI portal",
		Long: `Meridian is a tool for operating the Meridian portal service:
chat against the project dataset, manage the dataset file, and check
service health.`,
	}

	// Chat command
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session against the portal",
		Long:  `Initiates a persistent, interactive chat session. A session ID is created and reused for all subsequent messages to maintain conversation context.`,
		Run:   runChatCommand,
	}

	// Dataset commands
	dataCmd = &cobra.Command{
		Use:   "data",
		Short: "Manage the project dataset file",
	}
	dataValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a dataset CSV the way the portal loads it",
		Long:  `Parses the CSV with the portal's own loader and reports how many rows survive the required-field filter. With no argument the configured dataset path is used.`,
		Args:  cobra.MaximumNArgs(1),
		Run:   runDataValidate,
	}
	dataPushCmd = &cobra.Command{
		Use:   "push [file]",
		Short: "Upload the dataset CSV to GCS",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDataPush,
	}
	dataPullCmd = &cobra.Command{
		Use:   "pull [file]",
		Short: "Download the dataset CSV from GCS",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDataPull,
	}
	dataYes bool

	// Health command
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Display the portal service health",
		Run:   runHealthCommand,
	}
	healthJSONOutput bool

	// Session administration commands
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
		Long:  `List, inspect, or delete conversation sessions stored by the portal.`,
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List all conversation sessions",
		Run:   runListSessions,
	}
	sessionHistoryCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Show the stored turns for a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionHistory,
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a specific conversation session and its history",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession,
	}
)

// init() runs when the Go program starts
func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("resume", "", "Resume a conversation using a specific session ID.")

	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataValidateCmd)
	dataCmd.AddCommand(dataPushCmd)
	dataCmd.AddCommand(dataPullCmd)
	dataCmd.PersistentFlags().BoolVarP(&dataYes, "yes", "y", false,
		"Skip the confirmation prompt")

	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output as JSON for scripting")

	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(listSessionsCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
	sessionCmd.AddCommand(deleteSessionCmd)
}

// portalBaseURL resolves the portal address. MERIDIAN_PORTAL_URL wins
// over the config file.
func portalBaseURL() string {
	if url := os.Getenv("MERIDIAN_PORTAL_URL"); url != "" {
		return strings.TrimSuffix(url, "/")
	}
	return strings.TrimSuffix(config.Global.Portal.BaseURL, "/")
}
