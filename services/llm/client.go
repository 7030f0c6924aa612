package llm

import "context"

// Chat message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a function the model may call during a
// streamed completion. Parameters is a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolInvocation is a completed tool call assembled from stream deltas.
// Arguments holds the raw accumulated JSON string; callers parse it.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// GenerationParams tunes a single completion request.
type GenerationParams struct {
	Model           string           `json:"model"`
	MaxTokens       int              `json:"max_tokens"`
	Temperature     float32          `json:"temperature"`
	Stop            []string         `json:"stop"`
	ToolDefinitions []ToolDefinition `json:"tool_definitions"`
}

// StreamCallback receives each content fragment as it arrives.
// Returning an error aborts the stream.
type StreamCallback func(fragment string) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Chat runs a non-streaming completion and returns the full reply.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming completion, invoking callback per
	// content fragment. Tool calls requested by the model are assembled
	// from their deltas and returned after the stream ends.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) ([]ToolInvocation, error)
}
