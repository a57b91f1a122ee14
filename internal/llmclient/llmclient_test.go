package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

func TestToOpenAIMessages_ToolResultUsesToolRole(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "click", Params: map[string]any{"index": 1}}}},
		{Role: types.RoleUser, ToolResults: []types.ToolResult{{ToolCallID: "c1", Name: "click", Success: true, Result: "ok"}}},
	}
	out := toOpenAIMessages("", messages)

	require.Len(t, out, 2)
	require.Equal(t, "assistant", out[0].Role)
	require.Len(t, out[0].ToolCalls, 1)
	require.Equal(t, "tool", out[1].Role)
	require.Equal(t, "c1", out[1].ToolCallID)
}

func TestToAnthropicMessages_ToolResultForcesUserRole(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleAssistant, ToolResults: []types.ToolResult{{ToolCallID: "c1", Success: false, Error: "stale"}}},
	}
	out := toAnthropicMessages(messages)

	require.Len(t, out, 1)
	require.Equal(t, "user", out[0].Role)
	require.Equal(t, "tool_result", out[0].Content[0].Type)
	require.True(t, out[0].Content[0].IsError)
}

func TestToGeminiContents_AssistantBecomesModelRole(t *testing.T) {
	messages := []types.Message{{Role: types.RoleAssistant, Text: "done"}}
	out := toGeminiContents(messages)

	require.Len(t, out, 1)
	require.Equal(t, "model", out[0].Role)
	require.Equal(t, "done", out[0].Parts[0].Text)
}

func TestToGeminiContents_SkipsSystemRole(t *testing.T) {
	messages := []types.Message{{Role: types.RoleSystem, Text: "ignored"}, {Role: types.RoleUser, Text: "hi"}}
	out := toGeminiContents(messages)

	require.Len(t, out, 1)
	require.Equal(t, "hi", out[0].Parts[0].Text)
}

func TestWithRetry_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}, zap.NewNop(), func() (types.ChatResponse, error) {
		attempts++
		return types.ChatResponse{}, types.NewError(types.ErrLLMAuth, "bad key")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts, "non-retryable errors must not be retried")
}

func TestWithRetry_RetriesRateLimitedUpToMax(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}, zap.NewNop(), func() (types.ChatResponse, error) {
		attempts++
		return types.ChatResponse{}, types.NewError(types.ErrLLMRateLimited, "slow down")
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts, "initial attempt plus MaxRetries retries")
}

func TestWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	resp, err := withRetry(context.Background(), RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}, zap.NewNop(), func() (types.ChatResponse, error) {
		attempts++
		if attempts < 2 {
			return types.ChatResponse{}, types.NewError(types.ErrLLMUnavailable, "try again")
		}
		return types.ChatResponse{Text: "ok"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
}

func TestWithRetry_PropagatesUnwrappedErrorsAsNonRetryable(t *testing.T) {
	_, err := withRetry(context.Background(), RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}, zap.NewNop(), func() (types.ChatResponse, error) {
		return types.ChatResponse{}, errors.New("boom")
	})
	require.EqualError(t, err, "boom")
}

func TestEstimatorTokenizer_WeighsCJKDifferently(t *testing.T) {
	tok := newEstimatorTokenizer()
	ascii := tok.CountText("hello world this is english")
	cjk := tok.CountText("你好世界这是中文文本")

	require.Greater(t, cjk, 0)
	require.Greater(t, ascii, 0)
}

func TestEstimatorTokenizer_CountMessagesIncludesOverhead(t *testing.T) {
	tok := newEstimatorTokenizer()
	n := tok.CountMessages([]types.Message{{Role: types.RoleUser, Text: "hi"}})
	require.GreaterOrEqual(t, n, 1+4+3)
}
