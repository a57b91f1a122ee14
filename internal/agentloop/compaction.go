package agentloop

import (
	"fmt"

	"github.com/BaSui01/tasker/types"
)

// keepRecentSteps is the number of most-recent steps (observation + tool
// result pairs) always kept in full, per spec §4.E history compaction.
const keepRecentSteps = 5

// compact collapses the oldest observation/tool-result pairs into a
// one-line summary once history exceeds tokenBudget, keeping the most
// recent keepRecentSteps steps in full and every save_note output
// verbatim (notes are the agent's explicit memory and are exempt).
func compact(history []types.Message, tokenizer tokenCounter, tokenBudget int) []types.Message {
	if tokenizer.CountMessages(history) <= tokenBudget {
		return history
	}

	boundary := len(history) - keepRecentSteps*2 // observation + result per step
	if boundary <= 0 {
		return history
	}

	var compacted []types.Message
	i := 0
	for i < boundary {
		msg := history[i]
		if isNoteMessage(msg) {
			compacted = append(compacted, msg)
			i++
			continue
		}
		summary, consumed := summarizeStep(history[i:boundary])
		compacted = append(compacted, summary)
		i += consumed
	}
	compacted = append(compacted, history[boundary:]...)
	return compacted
}

// isNoteMessage reports whether msg carries a save_note tool call or its
// result, which must survive compaction verbatim.
func isNoteMessage(msg types.Message) bool {
	for _, tc := range msg.ToolCalls {
		if tc.Name == toolSaveNote {
			return true
		}
	}
	for _, tr := range msg.ToolResults {
		if tr.Name == toolSaveNote {
			return true
		}
	}
	return false
}

// summarizeStep folds one or more leading messages into a single
// one-line synthetic summary message, returning how many were consumed.
func summarizeStep(remaining []types.Message) (types.Message, int) {
	consumed := 1
	toolName := "unknown"
	outcome := "ran"
	if len(remaining[0].ToolCalls) > 0 {
		toolName = remaining[0].ToolCalls[0].Name
	}
	if len(remaining) > 1 {
		consumed = 2
		for _, tr := range remaining[1].ToolResults {
			if tr.Success {
				outcome = "succeeded"
			} else {
				outcome = "failed: " + tr.Error
			}
		}
	}
	return types.Message{
		Role: types.RoleAssistant,
		Text: fmt.Sprintf("(compacted) called %s, %s", toolName, outcome),
	}, consumed
}

// tokenCounter is the narrow slice of llmclient.Tokenizer compaction
// needs, kept local so this package doesn't import llmclient just for a
// token count.
type tokenCounter interface {
	CountMessages(messages []types.Message) int
}
