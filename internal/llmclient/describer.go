package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/tasker/types"
)

// describePrompt is the system prompt used to synthesize a workflow name
// and task description from a recorded trace (spec §4.C: "On stop, an LLM
// call synthesizes {name, task_description} from the action trace").
const describePrompt = `You are given a trace of browser actions a human performed while
demonstrating a task. Summarize it as a short workflow name and a
natural-language task description an autonomous agent could follow to
reproduce the same outcome on similar pages. Respond with JSON:
{"name": "...", "task_description": "..."}`

// Describer turns a recording's event trace into {name, task_description},
// satisfying the recorder.Describer interface without the recorder
// package importing llmclient (avoids an import cycle; the session
// manager wires the two together).
type Describer struct {
	client Client
	model  string
}

func NewDescriber(client Client, model string) *Describer {
	return &Describer{client: client, model: model}
}

func (d *Describer) Describe(ctx context.Context, events []types.ActionEvent) (name, description string, err error) {
	trace, err := json.Marshal(events)
	if err != nil {
		return "", "", types.NewError(types.ErrLLMBadResponse, "failed to marshal trace").WithCause(err)
	}

	resp, err := d.client.Chat(ctx, types.ChatRequest{
		Model:        d.model,
		SystemPrompt: describePrompt,
		Messages: []types.Message{
			{Role: types.RoleUser, Text: fmt.Sprintf("Trace (%d events):\n%s", len(events), trace)},
		},
	})
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Name            string `json:"name"`
		TaskDescription string `json:"task_description"`
	}
	text := extractJSONObject(resp.Text)
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", "", types.NewError(types.ErrLLMBadResponse, "describer returned non-JSON response").WithCause(err)
	}
	if parsed.Name == "" || parsed.TaskDescription == "" {
		return "", "", types.NewError(types.ErrLLMBadResponse, "describer response missing name or task_description")
	}
	return parsed.Name, parsed.TaskDescription, nil
}

// extractJSONObject strips markdown code fences models sometimes wrap
// JSON replies in before we attempt to unmarshal.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
