package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = baseURL
		slog.Info("Using custom OpenAI-compatible endpoint", "base_url", baseURL)
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Chat implements the LLMClient interface (non-streaming).
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	req := o.buildRequest(messages, params)
	slog.Debug("Generating text via OpenAI", "model", req.Model)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface (streaming).
//
// Content deltas flow to the callback as they arrive. Tool-call deltas
// are assembled per call ID because the provider spreads a single call's
// argument JSON across many chunks; io.EOF ends the stream normally.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) ([]ToolInvocation, error) {
	req := o.buildRequest(messages, params)
	req.Stream = true
	slog.Debug("Starting OpenAI completion stream", "model", req.Model, "tools", len(req.Tools))

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("OpenAI stream creation failed", "error", err)
		return nil, fmt.Errorf("OpenAI stream creation failed: %w", err)
	}
	defer stream.Close()

	type toolCallState struct {
		id    string
		name  string
		args  strings.Builder
		order int
	}
	calls := make(map[string]*toolCallState)
	nextOrder := 0

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if cbErr := callback(delta.Content); cbErr != nil {
				return nil, fmt.Errorf("stream callback failed: %w", cbErr)
			}
		}

		for _, tc := range delta.ToolCalls {
			key := tc.ID
			if key == "" && tc.Index != nil {
				// Later chunks for a call often carry only the index.
				key = fmt.Sprintf("idx_%d", *tc.Index)
			}
			if key == "" {
				continue
			}
			state, ok := calls[key]
			if !ok && tc.ID == "" && tc.Index != nil {
				// First chunk registered under the real ID; find it by order.
				for _, existing := range calls {
					if existing.order == *tc.Index {
						state = existing
						ok = true
						break
					}
				}
			}
			if !ok {
				state = &toolCallState{id: tc.ID, order: nextOrder}
				if tc.Index != nil {
					state.order = *tc.Index
				}
				nextOrder++
				calls[key] = state
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				state.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	// Restore provider order; map iteration scrambled it.
	ordered := make([]*toolCallState, 0, len(calls))
	for _, state := range calls {
		if state.name == "" {
			continue
		}
		ordered = append(ordered, state)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	invocations := make([]ToolInvocation, 0, len(ordered))
	for _, state := range ordered {
		invocations = append(invocations, ToolInvocation{
			ID:        state.id,
			Name:      state.name,
			Arguments: state.args.String(),
		})
	}
	return invocations, nil
}

func (o *OpenAIClient) buildRequest(messages []Message, params GenerationParams) openai.ChatCompletionRequest {
	model := params.Model
	if model == "" {
		model = o.model
	}

	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMsgs,
	}
	if params.Temperature > 0 {
		req.Temperature = params.Temperature
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if len(params.ToolDefinitions) > 0 {
		tools := make([]openai.Tool, 0, len(params.ToolDefinitions))
		for _, def := range params.ToolDefinitions {
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  def.Parameters,
				},
			})
		}
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	return req
}
