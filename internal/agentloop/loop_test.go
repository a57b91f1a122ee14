package agentloop

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tasker/internal/llmclient"
	"github.com/BaSui01/tasker/types"
)

// scriptedLLM replays a fixed sequence of ChatResponses, one per call,
// regardless of request content. Used to drive Runner.Execute through a
// known sequence of agent decisions without a real provider.
type scriptedLLM struct {
	responses []types.ChatResponse
	errs      []error
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return types.ChatResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return types.ChatResponse{Text: "no more script", ToolCalls: []types.ToolCall{{ID: "done", Name: toolDone, Params: map[string]any{"summary": "fallback"}}}}, nil
}

func (s *scriptedLLM) Name() string { return "scripted" }

func newTestRunnerFull(d *fakeDriver, llm llmclient.Client) *Runner {
	return &Runner{driver: d, llm: llm, tokenizer: lenTokenizer{perMessage: 1}, logger: zap.NewNop()}
}

func TestExecute_CompletesOnDoneCallWithNoStopWhen(t *testing.T) {
	llm := &scriptedLLM{responses: []types.ChatResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: toolDone, Params: map[string]any{"summary": "task finished"}}}},
	}}
	r := newTestRunnerFull(&fakeDriver{}, llm)
	run := &types.Run{ID: "run1", MaxSteps: 10}

	err := r.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Result != "task finished" {
		t.Fatalf("expected result to carry summary, got %q", run.Result)
	}
}

func TestExecute_DispatchesToolCallsBeforeDone(t *testing.T) {
	llm := &scriptedLLM{responses: []types.ChatResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: toolNavigate, Params: map[string]any{"url": "https://example.com"}}}},
		{ToolCalls: []types.ToolCall{{ID: "c2", Name: toolDone, Params: map[string]any{"summary": "done"}}}},
	}}
	d := &fakeDriver{}
	r := newTestRunnerFull(d, llm)
	run := &types.Run{ID: "run1", MaxSteps: 10}

	if err := r.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if d.navigateURL != "https://example.com" {
		t.Fatalf("expected navigate to be dispatched, got %q", d.navigateURL)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestExecute_FailsWhenStepBudgetExceededWithoutDone(t *testing.T) {
	llm := &scriptedLLM{responses: []types.ChatResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: toolScroll, Params: map[string]any{"direction": "down"}}}},
		{ToolCalls: []types.ToolCall{{ID: "c2", Name: toolScroll, Params: map[string]any{"direction": "down"}}}},
	}}
	r := newTestRunnerFull(&fakeDriver{}, llm)
	run := &types.Run{ID: "run1", MaxSteps: 2}

	err := r.Execute(context.Background(), run)
	if err == nil {
		t.Fatalf("expected step-budget error")
	}
	tErr := types.AsError(err)
	if tErr == nil || tErr.Code != types.ErrStepBudgetExceeded {
		t.Fatalf("expected ErrStepBudgetExceeded, got %v", err)
	}
	if run.Status != types.RunFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}

func TestExecute_CancelledContextStopsAtNextSuspensionPoint(t *testing.T) {
	llm := &scriptedLLM{}
	r := newTestRunnerFull(&fakeDriver{}, llm)
	run := &types.Run{ID: "run1", MaxSteps: 10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Execute(ctx, run)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	tErr := types.AsError(err)
	if tErr == nil || tErr.Code != types.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if run.Status != types.RunCancelled {
		t.Fatalf("expected cancelled status, got %s", run.Status)
	}
}

func TestExecute_BadResponseRetriesInsteadOfFailingImmediately(t *testing.T) {
	llm := &scriptedLLM{
		errs: []error{types.NewError(types.ErrLLMBadResponse, "not valid json"), nil},
		responses: []types.ChatResponse{
			{},
			{ToolCalls: []types.ToolCall{{ID: "c1", Name: toolDone, Params: map[string]any{"summary": "ok"}}}},
		},
	}
	r := newTestRunnerFull(&fakeDriver{}, llm)
	run := &types.Run{ID: "run1", MaxSteps: 10}

	if err := r.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("expected completed after recovering from one bad response, got %s", run.Status)
	}
}

func TestExecute_UnretryableLLMErrorFailsTheRun(t *testing.T) {
	llm := &scriptedLLM{errs: []error{types.NewError(types.ErrLLMAuth, "bad api key")}}
	r := newTestRunnerFull(&fakeDriver{}, llm)
	run := &types.Run{ID: "run1", MaxSteps: 10}

	err := r.Execute(context.Background(), run)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if run.Status != types.RunFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}

func TestEvaluateStopWhen_EmptyStopWhenAlwaysSatisfied(t *testing.T) {
	r := newTestRunnerFull(&fakeDriver{}, &scriptedLLM{})
	run := &types.Run{ID: "run1"}
	ok, err := r.evaluateStopWhen(context.Background(), run, "summary")
	if err != nil || !ok {
		t.Fatalf("expected satisfied with no stop_when, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateStopWhen_ParsesLeadingBooleanToken(t *testing.T) {
	llm := &scriptedLLM{responses: []types.ChatResponse{{Text: "true, because the form was submitted"}}}
	r := newTestRunnerFull(&fakeDriver{}, llm)
	run := &types.Run{ID: "run1", StopWhen: "the form is submitted"}
	ok, err := r.evaluateStopWhen(context.Background(), run, "submitted the form")
	if err != nil || !ok {
		t.Fatalf("expected true, got ok=%v err=%v", ok, err)
	}
}

func TestCompletedAtFor_NilForNonTerminalStatus(t *testing.T) {
	if got := completedAtFor(types.RunRunning); got != nil {
		t.Fatalf("expected nil for running status, got %v", got)
	}
}

func TestCompletedAtFor_SetForTerminalStatus(t *testing.T) {
	got := completedAtFor(types.RunCompleted)
	if got == nil {
		t.Fatalf("expected non-nil timestamp for completed status")
	}
	if time.Since(*got) > time.Second {
		t.Fatalf("expected timestamp close to now, got %v", *got)
	}
}

func TestTokenBudgetFor_UsesKnownModelWindow(t *testing.T) {
	r := newTestRunnerFull(&fakeDriver{}, &scriptedLLM{})
	run := &types.Run{LLMModel: "gpt-4"}
	got := r.tokenBudgetFor(run)
	want := int(8192 * tokenBudgetFraction)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestTokenBudgetFor_FallsBackToDefaultForUnknownModel(t *testing.T) {
	r := newTestRunnerFull(&fakeDriver{}, &scriptedLLM{})
	run := &types.Run{LLMModel: "some-unreleased-model"}
	got := r.tokenBudgetFor(run)
	want := int(defaultTokenBudget * tokenBudgetFraction)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
