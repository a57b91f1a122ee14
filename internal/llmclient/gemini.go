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

// GeminiClient talks to the generateContent REST endpoint. Authentication
// uses x-goog-api-key; there is no distinct tool role, so tool results
// are reported back as function_response parts on a user turn.
type GeminiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	policy  RetryPolicy
}

func NewGeminiClient(apiKey, baseURL string, logger *zap.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  secureHTTPClient(60 * time.Second),
		logger:  logger,
		policy:  DefaultRetryPolicy(),
	}
}

func (c *GeminiClient) Name() string { return "gemini" }

type geminiPart struct {
	Text             string                `json:"text,omitempty"`
	InlineData       *geminiInlineData     `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResult `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiError struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (c *GeminiClient) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	return withRetry(ctx, c.policy, c.logger, func() (types.ChatResponse, error) {
		return c.chatOnce(ctx, req)
	})
}

func (c *GeminiClient) chatOnce(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	body := geminiRequest{
		Contents: toGeminiContents(req.Messages),
		Tools:    toGeminiTools(req.Tools),
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to marshal gemini request").WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to build gemini request").WithCause(err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMUnavailable, "gemini request failed").WithCause(err)
	}
	defer resp.Body.Close()

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "failed to decode gemini response").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return types.ChatResponse{}, mapGeminiError(resp.StatusCode, parsed.Error)
	}
	if len(parsed.Candidates) == 0 {
		return types.ChatResponse{}, types.NewError(types.ErrLLMBadResponse, "gemini response had no candidates")
	}

	return fromGeminiCandidate(parsed.Candidates[0]), nil
}

func toGeminiContents(messages []types.Message) []geminiContent {
	out := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			continue // promoted to systemInstruction by the caller
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}

		var parts []geminiPart
		if m.Text != "" {
			parts = append(parts, geminiPart{Text: m.Text})
		}
		for _, img := range m.Images {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: "image/png", Data: img.PNGBase64}})
		}
		for _, tcItem := range m.ToolCalls {
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tcItem.Name, Args: tcItem.Params}})
		}
		for _, tr := range m.ToolResults {
			response := map[string]any{"result": tr.Result}
			if !tr.Success {
				response = map[string]any{"error": tr.Error}
			}
			parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResult{Name: tr.Name, Response: response}})
			role = "user" // Gemini reports function results back on a user turn
		}

		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}

func toGeminiTools(schemas []types.ToolSchema) []geminiTool {
	if len(schemas) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDecl, len(schemas))
	for i, s := range schemas {
		decls[i] = geminiFunctionDecl{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

func fromGeminiCandidate(c geminiCandidate) types.ChatResponse {
	out := types.ChatResponse{FinishReason: types.FinishStop}
	for i, part := range c.Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			// Gemini doesn't assign call IDs; synthesize a per-turn one so
			// ToolResult.ToolCallID can still round-trip it.
			id := fmt.Sprintf("%s-%d", part.FunctionCall.Name, i)
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: id, Name: part.FunctionCall.Name, Params: part.FunctionCall.Args})
		}
	}
	switch c.FinishReason {
	case "MAX_TOKENS":
		out.FinishReason = types.FinishLength
	default:
		if len(out.ToolCalls) > 0 {
			out.FinishReason = types.FinishToolUse
		}
	}
	return out
}

func mapGeminiError(status int, apiErr *geminiError) error {
	msg := "gemini API error"
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
