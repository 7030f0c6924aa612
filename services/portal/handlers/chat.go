// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeridianWorks/MeridianPortal/services/llm"
	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/datatypes"
	"github.com/MeridianWorks/MeridianPortal/services/portal/observability"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
	"github.com/MeridianWorks/MeridianPortal/services/search"
)

// =============================================================================
// Constants
// =============================================================================

// systemInstruction grounds the assistant in the dataset. Scope policy
// is delegated to the model; there is no keyword gate in the handler.
const systemInstruction = "You are the Meridian portal assistant. Answer questions using ONLY " +
	"the project dataset provided with each message. You may use your web " +
	"search capability to find supporting context, but the dataset is the " +
	"source of truth. If the answer cannot be found in the dataset, reply " +
	"that the question is out of scope for the portal data."

// searchApology is streamed in place of a summary when the search tool
// fails. The request still succeeds.
const searchApology = "\n\nI tried to search the web for more context but the search failed."

// searchToolName is the single tool offered on the chat stream.
const searchToolName = "search_web"

// maxSearchResults caps how many results feed the summary prompt.
const maxSearchResults = 3

// summaryMaxTokens bounds the secondary summarization call.
const summaryMaxTokens = 160

// =============================================================================
// Interface Definition
// =============================================================================

// ChatHandler defines the contract for the dataset-grounded chat
// endpoints.
//
// # Description
//
// ChatHandler serves the same orchestration over two transports: a
// chunked plain-text HTTP stream (POST /chat) and a websocket
// (GET /v1/chat/ws). Both assemble a dataset-grounded prompt, stream
// the model reply fragment by fragment, execute the search_web tool
// when the model requests it, and persist the exchange.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple
// goroutines. Gin calls handlers concurrently.
//
// # Limitations
//
//   - Requires an LLM client that supports ChatStream
type ChatHandler interface {
	// HandleChat processes POST /chat requests with a chunked
	// plain-text token stream.
	HandleChat(c *gin.Context)

	// HandleChatWS upgrades GET /v1/chat/ws and runs the chat
	// orchestration over websocket frames.
	HandleChatWS(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// ChatConfig carries the generation settings for the chat endpoints.
type ChatConfig struct {
	// Model is the model identifier passed to the LLM client. Empty
	// selects the client's configured default.
	Model string

	// MaxTokens bounds the streamed reply. Zero means provider default.
	MaxTokens int

	// Temperature for the streamed reply. Zero means provider default.
	Temperature float32
}

// chatHandler implements ChatHandler.
//
// # Fields
//
//   - llmClient: Streaming LLM client. Required.
//   - searchClient: Web search client. May be nil; the search_web tool
//     is then not offered.
//   - store: Session store for history and persistence. Required.
//   - datasets: Live dataset snapshot holder. Required.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
type chatHandler struct {
	llmClient    llm.LLMClient
	searchClient *search.Client
	store        session.Store
	datasets     *dataset.Store
	cfg          ChatConfig
	tracer       trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewChatHandler creates a ChatHandler with the provided dependencies.
//
// # Inputs
//
//   - llmClient: LLM client with streaming support. Must not be nil.
//   - searchClient: Web search client. May be nil to disable the
//     search_web tool.
//   - store: Session store. Must not be nil.
//   - datasets: Dataset snapshot holder. Must not be nil.
//   - cfg: Generation settings.
//
// # Outputs
//
//   - ChatHandler: Ready for use with the Gin router.
//
// # Limitations
//
//   - Panics on nil llmClient, store, or datasets (programming errors).
func NewChatHandler(
	llmClient llm.LLMClient,
	searchClient *search.Client,
	store session.Store,
	datasets *dataset.Store,
	cfg ChatConfig,
) ChatHandler {
	if llmClient == nil {
		panic("NewChatHandler: llmClient must not be nil")
	}
	if store == nil {
		panic("NewChatHandler: store must not be nil")
	}
	if datasets == nil {
		panic("NewChatHandler: datasets must not be nil")
	}

	return &chatHandler{
		llmClient:    llmClient,
		searchClient: searchClient,
		store:        store,
		datasets:     datasets,
		cfg:          cfg,
		tracer:       otel.Tracer("meridian.portal.handlers.chat"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChat processes POST /chat requests.
//
// # Description
//
// The flow is:
//  1. Parse and validate the request body
//  2. Ensure a session ID (fresh UUID when absent)
//  3. Set stream headers and create the chunked writer
//  4. Run the exchange: history load, prompt assembly, token relay,
//     tool execution, persistence
//
// # Outputs
//
// Success: chunked text/plain; charset=utf-8 body containing the raw
// reply text, flushed per fragment.
//
// HTTP status (before the first byte only):
//   - 400 Bad Request: invalid request body or validation failure
//   - 500 Internal Server Error: stream setup or pre-stream LLM failure
//
// Failures after the first byte append an inline marker to the body
// instead; the committed 200 status cannot change.
func (h *chatHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse request body
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Step 2: Validate request
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat request validation failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 3: Ensure session ID for persistence
	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("request.message_bytes", len(req.Message)),
	)

	// Step 4: Set stream headers and create writer
	SetStreamHeaders(c.Writer)
	writer, err := NewStreamWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream setup failed")
		slog.Error("Failed to create stream writer", "error", err, "sessionId", req.SessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat stream failed"})
		return
	}

	// Step 5: Run the exchange, relaying fragments through the writer
	var firstFragmentAt time.Time
	emit := func(fragment string) error {
		if firstFragmentAt.IsZero() {
			firstFragmentAt = time.Now()
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstToken(endpoint, firstFragmentAt.Sub(startTime).Seconds())
			}
		}
		return writer.WriteFragment(fragment)
	}

	if err := h.runExchange(ctx, endpoint, req.SessionID, req.Message, emit); err != nil {
		span.RecordError(err)

		if errors.Is(err, context.Canceled) {
			span.SetStatus(codes.Error, "client disconnected")
			slog.Info("Client disconnected mid-stream",
				"sessionId", req.SessionID,
				"fragments_sent", writer.FragmentCount(),
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
			}
			return
		}

		span.SetStatus(codes.Error, "chat stream failed")
		slog.Error("Chat stream failed",
			"error", err,
			"sessionId", req.SessionID,
			"fragments_sent", writer.FragmentCount(),
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeLLMError)
		}

		if writer.FragmentCount() == 0 {
			// Nothing sent yet; the status line is still ours.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "chat stream failed"})
			return
		}
		if markerErr := writer.WriteErrorMarker(); markerErr != nil {
			slog.Debug("Failed to write stream error marker", "error", markerErr)
		}
		return
	}

	success = true
	if m := observability.DefaultMetrics; m != nil {
		m.RecordOutputTokens(writer.FragmentCount(), h.modelLabel())
	}
	span.SetAttributes(attribute.Int("stream.fragment_count", writer.FragmentCount()))
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Orchestration Core
// =============================================================================

// runExchange streams the reply for one user message through emit,
// executes any search_web invocation, persists the exchange, and
// returns when the full reply has been delivered.
//
// # Description
//
// The emit callback receives every fragment in order; the concatenation
// of all emitted fragments equals the persisted assistant reply. Both
// transports (HTTP chunked and websocket) share this path.
//
// # Inputs
//
//   - ctx: Request context. Cancellation aborts the stream.
//   - endpoint: Metrics label for the calling transport.
//   - sessionID: Session for history and persistence.
//   - message: The user's message.
//   - emit: Fragment sink. An error return aborts the stream.
//
// # Outputs
//
//   - error: Non-nil on stream failure. The caller decides between a
//     JSON error and an inline marker based on fragments already sent.
func (h *chatHandler) runExchange(
	ctx context.Context,
	endpoint observability.Endpoint,
	sessionID string,
	message string,
	emit func(fragment string) error,
) error {
	// Accumulate the reply in locked memory for persistence.
	acc, err := NewReplyAccumulator()
	if err != nil {
		return fmt.Errorf("create reply accumulator: %w", err)
	}
	defer acc.Destroy()

	history, err := h.store.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}

	snapshot := h.datasets.Current()
	messages := buildMessages(snapshot.Text, history, message)

	params := llm.GenerationParams{
		Model:       h.cfg.Model,
		MaxTokens:   h.cfg.MaxTokens,
		Temperature: h.cfg.Temperature,
	}
	if h.searchClient != nil {
		params.ToolDefinitions = []llm.ToolDefinition{searchToolDefinition()}
	}

	relay := func(fragment string) error {
		if err := emit(fragment); err != nil {
			return err
		}
		return acc.Write(fragment)
	}

	invocations, err := h.llmClient.ChatStream(ctx, messages, params, relay)
	if err != nil {
		return fmt.Errorf("llm stream: %w", err)
	}

	// Tool execution happens after the stream drains. Failures degrade
	// to an inline apology; the request still succeeds.
	for _, inv := range invocations {
		if inv.Name != searchToolName {
			slog.Warn("Ignoring unknown tool invocation", "tool", inv.Name, "sessionId", sessionID)
			continue
		}
		addendum, ok := h.executeSearchTool(ctx, endpoint, sessionID, inv)
		if !ok {
			continue
		}
		if err := relay(addendum); err != nil {
			return fmt.Errorf("relay tool addendum: %w", err)
		}
	}

	reply, replyHash, err := acc.Finalize()
	if err != nil {
		return fmt.Errorf("finalize reply: %w", err)
	}

	if err := h.store.AppendExchange(ctx, sessionID, message, reply); err != nil {
		// The client already has the reply; losing the turn is a server
		// problem, not a stream failure.
		slog.Error("Failed to persist chat exchange",
			"error", err,
			"sessionId", sessionID,
			"reply_hash", replyHash[:16]+"...",
		)
	}

	return nil
}

// executeSearchTool runs one search_web invocation and returns the
// addendum to stream. The bool is false when the invocation should be
// skipped entirely (malformed arguments).
func (h *chatHandler) executeSearchTool(
	ctx context.Context,
	endpoint observability.Endpoint,
	sessionID string,
	inv llm.ToolInvocation,
) (string, bool) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		slog.Warn("Skipping search_web invocation with malformed arguments",
			"error", err,
			"sessionId", sessionID,
			"tool_call_id", inv.ID,
		)
		return "", false
	}

	results, err := h.searchClient.Search(ctx, args.Query)
	if err != nil {
		slog.Error("Web search failed", "error", err, "sessionId", sessionID, "query", args.Query)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeSearchError)
		}
		return searchApology, true
	}
	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}

	summary, err := h.summarizeResults(ctx, args.Query, results)
	if err != nil {
		slog.Error("Search summary failed", "error", err, "sessionId", sessionID, "query", args.Query)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeSearchError)
		}
		return searchApology, true
	}

	return "\n\n" + summary, true
}

// summarizeResults compresses search results into at most two
// sentences via a secondary non-streaming completion.
func (h *chatHandler) summarizeResults(ctx context.Context, query string, results []search.Result) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the following web search results for the query %q "+
		"in at most two sentences. State only facts found in the results.\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}

	summary, err := h.llmClient.Chat(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		llm.GenerationParams{
			Model:       h.cfg.Model,
			MaxTokens:   summaryMaxTokens,
			Temperature: 0.2,
		},
	)
	if err != nil {
		return "", fmt.Errorf("summarize search results: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// =============================================================================
// Prompt Assembly
// =============================================================================

// buildMessages assembles the full prompt: system instruction, prior
// turns in order, then the dataset block plus the user's message.
func buildMessages(datasetText string, history []session.Turn, userMessage string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemInstruction})

	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}

	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Project dataset:\n---\n%s\n---\n\n%s", datasetText, userMessage),
	})
	return messages
}

// searchToolDefinition describes the search_web tool offered on the
// chat stream.
func searchToolDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        searchToolName,
		Description: "Search the web for supporting context. Takes a single string argument 'query'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (h *chatHandler) modelLabel() string {
	if h.cfg.Model != "" {
		return h.cfg.Model
	}
	return "default"
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ ChatHandler = (*chatHandler)(nil)
