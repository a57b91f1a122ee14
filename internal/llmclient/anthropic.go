package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// AnthropicClient talks to the Claude Messages API (/v1/messages). Unlike
// the OpenAI-compatible family, authentication uses x-api-key, system
// prompts are a top-level field rather than a message, and tool results
// are wrapped as user-role tool_result content blocks.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	policy  RetryPolicy
}

// NewAnthropicClient builds an adapter for the given API key and base URL
// (empty baseURL defaults to the public API).
func NewAnthropicClient(apiKey, baseURL string, logger *zap.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  secureHTTPClient(60 * time.Second),
		logger:  logger,
		policy:  DefaultRetryPolicy(),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Source    *anthropicImg  `json:"source,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthropicImg struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *AnthropicClient) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	return withRetry(ctx, c.policy, c.logger, func() (types.ChatResponse, error) {
		return c.chatOnce(ctx, req)
	})
}

func (c *AnthropicClient) chatOnce(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	body := anthropicRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
		MaxTokens: 4096,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to marshal anthropic request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to build anthropic request").WithCause(err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMUnavailable, "anthropic request failed").WithCause(err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to decode anthropic response").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return types.ChatResponse{}, mapAnthropicError(resp.StatusCode, parsed.Error)
	}

	return fromAnthropicResponse(parsed), nil
}

func toAnthropicMessages(messages []types.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			continue // promoted to the top-level system field by the caller
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "assistant"
		}

		var blocks []anthropicContentBlock
		if m.Text != "" {
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			blocks = append(blocks, anthropicContentBlock{
				Type:   "image",
				Source: &anthropicImg{Type: "base64", MediaType: "image/png", Data: img.PNGBase64},
			})
		}
		for _, tcItem := range m.ToolCalls {
			blocks = append(blocks, anthropicContentBlock{
				Type: "tool_use", ID: tcItem.ID, Name: tcItem.Name, Input: tcItem.Params,
			})
		}
		for _, tr := range m.ToolResults {
			content := tr.Result
			if !tr.Success {
				content = tr.Error
			}
			blocks = append(blocks, anthropicContentBlock{
				Type: "tool_result", ToolUseID: tr.ToolCallID, Content: content, IsError: !tr.Success,
			})
			role = "user" // Claude requires tool_result blocks on a user-role message
		}

		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}
	return out
}

func toAnthropicTools(schemas []types.ToolSchema) []anthropicTool {
	out := make([]anthropicTool, len(schemas))
	for i, s := range schemas {
		out[i] = anthropicTool{Name: s.Name, Description: s.Description, InputSchema: s.Parameters}
	}
	return out
}

func fromAnthropicResponse(resp anthropicResponse) types.ChatResponse {
	out := types.ChatResponse{FinishReason: types.FinishStop}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: block.ID, Name: block.Name, Params: block.Input})
		}
	}
	if resp.StopReason == "tool_use" {
		out.FinishReason = types.FinishToolUse
	} else if resp.StopReason == "max_tokens" {
		out.FinishReason = types.FinishLength
	}
	return out
}

func mapAnthropicError(status int, apiErr *anthropicError) error {
	msg := "anthropic API error"
	if apiErr != nil {
		msg = apiErr.Message
	}
	switch status {
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrLLMRateLimited, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrLLMAuth, msg)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.NewError(types.ErrLLMUnavailable, msg)
	default:
		return types.NewError(types.ErrLLMBadResponse, fmt.Sprintf("anthropic status %d: %s", status, msg))
	}
}
