package types

// Role is a canonical chat role, mapped per-provider by the LLM client.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Image is an inline image attachment (screenshot) on a Message.
type Image struct {
	PNGBase64 string `json:"png_base64"`
}

// ToolCall is a single LLM-emitted tool invocation.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ToolResult is the agent's report of a dispatched ToolCall, fed back into
// history as the next message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Message is the canonical, provider-neutral chat message. Provider
// adapters convert to/from this shape; the agent loop never sees
// provider-specific JSON.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	Images      []Image      `json:"images,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// FinishReason is why the provider stopped generating.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishToolUse  FinishReason = "tool_use"
	FinishLength   FinishReason = "length"
	FinishError    FinishReason = "error"
)

// ToolSchema is one JSON-schema-described tool the LLM may call.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// ChatRequest is the provider-neutral chat+tool call.
type ChatRequest struct {
	Provider     string
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
}

// ChatResponse is what every provider adapter converts its reply into.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
}
