package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// OpenAIClient talks to the Chat Completions API. Structurally this is
// the same OpenAI-compatible shape DeepSeek/Qwen/GLM/etc. all share, so
// pointing baseURL at a compatible endpoint works without code changes.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	policy  RetryPolicy
}

func NewOpenAIClient(apiKey, baseURL string, logger *zap.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  secureHTTPClient(60 * time.Second),
		logger:  logger,
		policy:  DefaultRetryPolicy(),
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string          `json:"type"`
	Function openAIFunction  `json:"function"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content,omitempty"` // string or []openAIContentPart
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *OpenAIClient) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	return withRetry(ctx, c.policy, c.logger, func() (types.ChatResponse, error) {
		return c.chatOnce(ctx, req)
	})
}

func (c *OpenAIClient) chatOnce(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	body := openAIRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.SystemPrompt, req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to marshal openai request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to build openai request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMUnavailable, "openai request failed").WithCause(err)
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to decode openai response").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return types.ChatResponse{}, mapOpenAIError(resp.StatusCode, parsed.Error)
	}
	if len(parsed.Choices) == 0 {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "openai response had no choices")
	}

	return fromOpenAIChoice(parsed.Choices[0]), nil
}

func toOpenAIMessages(systemPrompt string, messages []types.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openAIMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		switch {
		case len(m.ToolResults) > 0:
			for _, tr := range m.ToolResults {
				content := tr.Result
				if !tr.Success {
					content = tr.Error
				}
				out = append(out, openAIMessage{Role: "tool", Content: content, ToolCallID: tr.ToolCallID})
			}
		case len(m.ToolCalls) > 0:
			calls := make([]openAIToolCall, len(m.ToolCalls))
			for i, tcItem := range m.ToolCalls {
				args, _ := json.Marshal(tcItem.Params)
				calls[i] = openAIToolCall{ID: tcItem.ID, Type: "function"}
				calls[i].Function.Name = tcItem.Name
				calls[i].Function.Arguments = string(args)
			}
			out = append(out, openAIMessage{Role: "assistant", ToolCalls: calls})
		case len(m.Images) > 0:
			parts := []openAIContentPart{{Type: "text", Text: m.Text}}
			for _, img := range m.Images {
				parts = append(parts, openAIContentPart{
					Type:     "image_url",
					ImageURL: &openAIImageURL{URL: "data:image/png;base64," + img.PNGBase64},
				})
			}
			out = append(out, openAIMessage{Role: string(m.Role), Content: parts})
		default:
			out = append(out, openAIMessage{Role: string(m.Role), Content: m.Text})
		}
	}
	return out
}

func toOpenAITools(schemas []types.ToolSchema) []openAITool {
	out := make([]openAITool, len(schemas))
	for i, s := range schemas {
		out[i] = openAITool{Type: "function", Function: openAIFunction{
			Name: s.Name, Description: s.Description, Parameters: s.Parameters,
		}}
	}
	return out
}

func fromOpenAIChoice(choice openAIChoice) types.ChatResponse {
	out := types.ChatResponse{Text: textOf(choice.Message.Content), FinishReason: types.FinishStop}
	for _, tc := range choice.Message.ToolCalls {
		var params map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &params)
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Params: params})
	}
	switch choice.FinishReason {
	case "tool_calls":
		out.FinishReason = types.FinishToolUse
	case "length":
		out.FinishReason = types.FinishLength
	}
	return out
}

func textOf(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return ""
}

func mapOpenAIError(status int, apiErr *openAIError) error {
	msg := "openai API error"
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
		return types.NewError(types.ErrLLMBadResponse, msg)
	}
}
