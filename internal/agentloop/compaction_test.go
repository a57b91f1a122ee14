package agentloop

import (
	"testing"

	"github.com/BaSui01/tasker/types"
)

// lenTokenizer counts one token per message so tests can reason about
// exact budgets without pulling in the real tiktoken/estimator stack.
type lenTokenizer struct{ perMessage int }

func (t lenTokenizer) CountMessages(messages []types.Message) int {
	return len(messages) * t.perMessage
}

func (t lenTokenizer) CountText(text string) int {
	return len(text)
}

func obs(step int) types.Message {
	return types.Message{Role: types.RoleUser, Text: "observation"}
}

func callMsg(tool string) types.Message {
	return types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: tool}}}
}

func resultMsg(tool string, ok bool) types.Message {
	return types.Message{Role: types.RoleUser, ToolResults: []types.ToolResult{{Name: tool, Success: ok}}}
}

func TestCompact_NoopUnderBudget(t *testing.T) {
	history := []types.Message{obs(1), callMsg(toolClick), resultMsg(toolClick, true)}
	out := compact(history, lenTokenizer{perMessage: 1}, 100)
	if len(out) != len(history) {
		t.Fatalf("expected no compaction under budget, got %d messages", len(out))
	}
}

func TestCompact_KeepsMostRecentStepsInFull(t *testing.T) {
	var history []types.Message
	for i := 0; i < 10; i++ {
		history = append(history, callMsg(toolClick), resultMsg(toolClick, true))
	}
	// Over budget so compaction runs; keepRecentSteps=5 steps = 10 messages.
	out := compact(history, lenTokenizer{perMessage: 10}, 5)

	tail := out[len(out)-keepRecentSteps*2:]
	for i, m := range tail {
		want := history[len(history)-keepRecentSteps*2+i]
		if m.Role != want.Role {
			t.Fatalf("tail message %d role mismatch: got %s want %s", i, m.Role, want.Role)
		}
	}
	if len(out) >= len(history) {
		t.Fatalf("expected compaction to shrink history, got %d >= %d", len(out), len(history))
	}
}

func TestCompact_PreservesSaveNoteVerbatim(t *testing.T) {
	var history []types.Message
	for i := 0; i < 8; i++ {
		history = append(history, callMsg(toolClick), resultMsg(toolClick, true))
	}
	noteCall := callMsg(toolSaveNote)
	noteResult := resultMsg(toolSaveNote, true)
	history = append([]types.Message{noteCall, noteResult}, history...)

	out := compact(history, lenTokenizer{perMessage: 10}, 5)

	foundCall, foundResult := false, false
	for _, m := range out {
		if len(m.ToolCalls) > 0 && m.ToolCalls[0].Name == toolSaveNote {
			foundCall = true
		}
		if len(m.ToolResults) > 0 && m.ToolResults[0].Name == toolSaveNote {
			foundResult = true
		}
	}
	if !foundCall || !foundResult {
		t.Fatalf("save_note call/result did not survive compaction: call=%v result=%v", foundCall, foundResult)
	}
}

func TestCompact_SummarizesOlderStepsIntoOneLiner(t *testing.T) {
	var history []types.Message
	for i := 0; i < 10; i++ {
		history = append(history, callMsg(toolNavigate), resultMsg(toolNavigate, false))
	}
	out := compact(history, lenTokenizer{perMessage: 10}, 5)

	head := out[0]
	if head.Role != types.RoleAssistant {
		t.Fatalf("expected summarized head message to be assistant role, got %s", head.Role)
	}
	if head.Text == "" {
		t.Fatalf("expected non-empty summary text")
	}
}

func TestCompact_SmallHistoryBelowBoundaryIsUntouched(t *testing.T) {
	history := []types.Message{callMsg(toolClick), resultMsg(toolClick, true)}
	out := compact(history, lenTokenizer{perMessage: 1000}, 1)
	if len(out) != len(history) {
		t.Fatalf("history shorter than keepRecentSteps window should be returned unchanged, got %d want %d", len(out), len(history))
	}
}
