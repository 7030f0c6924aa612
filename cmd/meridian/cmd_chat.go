// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/MeridianWorks/MeridianPortal/pkg/ux"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// streamChat posts one message to the portal /chat endpoint and copies
// the raw streamed reply to out as it arrives. onFirstChunk fires once
// before the first fragment is written (used to clear the spinner).
func streamChat(ctx context.Context, client *http.Client, baseURL, sessionID, message string,
	out io.Writer, onFirstChunk func()) error {

	postBody, err := json.Marshal(chatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to create the chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat",
		bytes.NewBuffer(postBody))
	if err != nil {
		return fmt.Errorf("failed to build the chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach the portal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("portal returned status %d: %s", resp.StatusCode,
			strings.TrimSpace(string(bodyBytes)))
	}

	first := true
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if first {
				first = false
				if onFirstChunk != nil {
					onFirstChunk()
				}
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("stream interrupted: %w", readErr)
		}
	}
}

func runChatCommand(cmd *cobra.Command, args []string) {
	baseURL := portalBaseURL()

	sessionID, _ := cmd.Flags().GetString("resume")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if interactive {
		ux.Title("Meridian portal chat")
		ux.Muted(fmt.Sprintf("session %s", sessionID))
		ux.Muted("Type 'exit' or 'quit' to end.")
	}

	client := &http.Client{Timeout: 3 * time.Minute}
	reader := bufio.NewReader(os.Stdin)

	for {
		if interactive {
			fmt.Print("> ")
		}
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read input: %v", err)
		}
		input = strings.TrimSpace(input)
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}

		spinner := ux.NewSpinner("Thinking")
		if interactive {
			spinner.Start()
		}

		err = streamChat(ctx, client, baseURL, sessionID, input, os.Stdout, spinner.Stop)
		spinner.Stop()
		fmt.Println()

		if ctx.Err() != nil {
			break
		}
		if err != nil {
			ux.Error(err.Error())
		}
	}

	if interactive {
		ux.Muted(fmt.Sprintf("Resume this conversation with: meridian chat --resume %s", sessionID))
	}
}
