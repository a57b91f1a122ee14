// Package agentloop is the Agent Run Loop (spec component 4.E): the
// bounded, cancellable, step-budgeted state machine that drives a CDP
// Driver through an LLM-directed task to completion.
package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/internal/browser"
	"github.com/BaSui01/tasker/internal/llmclient"
	"github.com/BaSui01/tasker/internal/store"
	"github.com/BaSui01/tasker/types"
)

// tokenBudgetFraction is how much of the model's nominal context window
// history is allowed to consume before compaction kicks in.
const tokenBudgetFraction = 0.6

// defaultTokenBudget is used when the provider/model has no known window.
const defaultTokenBudget = 60000

// modelContextWindows lists the nominal context window for models whose
// family is known well enough to budget tighter than the default.
var modelContextWindows = map[string]int{
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
}

// Runner drives one Run end to end. One Runner instance is constructed
// per run; it is not reused across runs.
type Runner struct {
	driver    browser.Driver
	store     *store.Store
	llm       llmclient.Client
	tokenizer llmclient.Tokenizer
	logger    *zap.Logger

	onStep func(types.RunStep)
}

// NewRunner wires the CDP Driver, Store and LLM Client for one run.
func NewRunner(driver browser.Driver, st *store.Store, llm llmclient.Client, tokenizer llmclient.Tokenizer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{driver: driver, store: st, llm: llm, tokenizer: tokenizer, logger: logger}
}

// SetOnStep registers a callback invoked with every RunStep as it's
// persisted, mirroring recorder.Engine.SetOnEvent. Callers use this to
// mirror the run onto the WebSocket hub as replay_step events.
func (r *Runner) SetOnStep(fn func(types.RunStep)) {
	r.onStep = fn
}

// Execute drives run to a terminal state, persisting steps/logs/status
// along the way. ctx cancellation transitions the run to Cancelled at
// the next suspension point (spec §4.F: "the task observes it at the
// next suspension point").
func (r *Runner) Execute(ctx context.Context, run *types.Run) error {
	r.setStatus(ctx, run, types.RunRunning, "")

	history := []types.Message{}
	systemPrompt := r.buildSystemPrompt(run)
	tokenBudget := r.tokenBudgetFor(run)

	for step := 1; ; step++ {
		if run.MaxSteps > 0 && step > run.MaxSteps {
			return r.fail(ctx, run, types.ErrStepBudgetExceeded, "step budget exceeded without done()")
		}
		if ctx.Err() != nil {
			return r.cancel(ctx, run)
		}

		snapshot, err := r.driver.Snapshot(ctx)
		if err != nil {
			return r.fail(ctx, run, types.ErrBrowserError, "failed to capture page snapshot: "+err.Error())
		}

		observation := buildObservation(step, snapshot)
		history = append(history, observation)
		history = compact(history, r.tokenizer, tokenBudget)

		req := types.ChatRequest{
			Provider:     run.LLMProvider,
			Model:        run.LLMModel,
			SystemPrompt: systemPrompt,
			Messages:     withScreenshot(history, snapshot),
			Tools:        toolSchemas(),
		}

		resp, err := r.llm.Chat(ctx, req)
		if err != nil {
			tErr := types.AsError(err)
			if tErr != nil && tErr.Code == types.ErrLLMBadResponse {
				history = append(history, types.Message{Role: types.RoleUser, Text: "your last tool call was not valid JSON; please retry with a well-formed tool call"})
				r.logStep(ctx, run.ID, step, "llm_bad_response", nil, false, "", err.Error(), 0)
				continue
			}
			return r.fail(ctx, run, types.ErrLLMUnavailable, "llm call failed: "+err.Error())
		}

		assistantMsg := types.Message{Role: types.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls}
		history = append(history, assistantMsg)

		doneCall, calls := splitDoneCall(resp.ToolCalls)
		if doneCall != nil {
			summary, _ := doneCall.Params["summary"].(string)
			ok, err := r.evaluateStopWhen(ctx, run, summary)
			if err != nil {
				r.logger.Warn("stop_when evaluation failed, treating as satisfied", zap.Error(err))
				ok = true
			}
			if ok {
				return r.complete(ctx, run, summary)
			}
			history = append(history, types.Message{Role: types.RoleUser, Text: "stop condition not yet satisfied, continue working: " + run.StopWhen})
			continue
		}

		results := r.dispatchAll(ctx, run.ID, step, calls)
		history = append(history, types.Message{Role: types.RoleUser, ToolResults: results})
	}
}

// dispatchAll runs calls in order; the first failure aborts the rest of
// the batch and reports them back marked skipped (spec §4.E tie-break).
func (r *Runner) dispatchAll(ctx context.Context, runID string, step int, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, 0, len(calls))
	failed := false

	for _, call := range calls {
		if failed {
			results = append(results, types.ToolResult{ToolCallID: call.ID, Name: call.Name, Skipped: true})
			continue
		}

		if call.Name == toolSaveNote || call.Name == toolRecallNotes {
			results = append(results, r.dispatchNoteTool(ctx, runID, call))
		} else {
			results = append(results, r.dispatch(ctx, runID, call))
		}

		last := results[len(results)-1]
		r.logStep(ctx, runID, step, call.Name, call.Params, last.Success, last.Result, last.Error, last.DurationMS)
		if !last.Success {
			failed = true
		}
	}
	return results
}

func (r *Runner) dispatchNoteTool(ctx context.Context, runID string, call types.ToolCall) types.ToolResult {
	tr := types.ToolResult{ToolCallID: call.ID, Name: call.Name}
	if r.store == nil {
		tr.Success = false
		tr.Error = "store unavailable"
		return tr
	}

	switch call.Name {
	case toolSaveNote:
		key, _ := call.Params["key"].(string)
		value, _ := call.Params["value"].(string)
		err := r.store.SaveNote(ctx, &types.Note{ID: uuid.NewString(), RunID: runID, Key: key, Value: value})
		tr.Success = err == nil
		if err != nil {
			tr.Error = err.Error()
		}
	case toolRecallNotes:
		notes, err := r.store.RecallNotes(ctx, runID)
		if err != nil {
			tr.Error = err.Error()
			return tr
		}
		tr.Success = true
		tr.Result, _ = marshalJSON(notes)
	}
	return tr
}

func splitDoneCall(calls []types.ToolCall) (*types.ToolCall, []types.ToolCall) {
	for i, c := range calls {
		if c.Name == toolDone {
			return &calls[i], nil
		}
	}
	return nil, calls
}

func (r *Runner) evaluateStopWhen(ctx context.Context, run *types.Run, summary string) (bool, error) {
	if strings.TrimSpace(run.StopWhen) == "" {
		return true, nil
	}
	resp, err := r.llm.Chat(ctx, types.ChatRequest{
		Provider:     run.LLMProvider,
		Model:        run.LLMModel,
		SystemPrompt: "Answer with a single leading token: true or false.",
		Messages: []types.Message{{
			Role: types.RoleUser,
			Text: fmt.Sprintf("Task summary: %s\n\nStop condition: %s\n\nHas the stop condition been met?", summary, run.StopWhen),
		}},
	})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Text)), "true"), nil
}

func buildObservation(step int, snapshot *types.PageSnapshot) types.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d observation:\nURL: %s\nTitle: %s\n", step, snapshot.URL, snapshot.Title)
	fmt.Fprintf(&b, "Interactive elements (%d):\n", len(snapshot.Elements))
	for _, el := range snapshot.Elements {
		fmt.Fprintf(&b, "[%d] <%s> %s\n", el.Index, el.Tag, truncateText(el.Text, 80))
	}
	return types.Message{Role: types.RoleUser, Text: b.String()}
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// withScreenshot returns history with the current snapshot's screenshot
// attached to the last message, downscaled per spec's ≤1280px rule.
func withScreenshot(history []types.Message, snapshot *types.PageSnapshot) []types.Message {
	if len(history) == 0 || len(snapshot.Screenshot) == 0 {
		return history
	}
	img, err := downscaleScreenshot(snapshot.Screenshot)
	if err != nil || img.PNGBase64 == "" {
		return history
	}
	out := append([]types.Message(nil), history...)
	last := out[len(out)-1]
	last.Images = append(last.Images, img)
	out[len(out)-1] = last
	return out
}

func (r *Runner) buildSystemPrompt(run *types.Run) string {
	var b strings.Builder
	b.WriteString("You are a browser automation agent. Use the provided tools to accomplish the task.\n")
	fmt.Fprintf(&b, "Task: %s\n", run.TaskDescription)
	if run.CustomInstructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", run.CustomInstructions)
	}
	if run.StopWhen != "" {
		fmt.Fprintf(&b, "Stop condition: %s\n", run.StopWhen)
	}
	b.WriteString("Elements are only addressable by the index shown in the most recent observation; " +
		"if an index fails with element_stale, take a fresh snapshot before retrying. " +
		"Call done(summary) only when the task is fully complete.")
	return b.String()
}

func (r *Runner) tokenBudgetFor(run *types.Run) int {
	window, ok := modelContextWindows[run.LLMModel]
	if !ok {
		window = defaultTokenBudget
	}
	return int(float64(window) * tokenBudgetFraction)
}

func (r *Runner) logStep(ctx context.Context, runID string, stepNumber int, tool string, callParams map[string]any, success bool, result, errMsg string, durationMS int64) {
	params, _ := marshalJSON(callParams)
	step := types.RunStep{
		ID: uuid.NewString(), RunID: runID, StepNumber: stepNumber, ToolName: tool,
		Params: params, Success: success, Result: result, Error: errMsg, DurationMS: durationMS,
		Timestamp: time.Now(),
	}

	if r.store != nil {
		_, _ = r.store.AppendStep(ctx, &step)
	}
	if r.onStep != nil {
		r.onStep(step)
	}
}

func (r *Runner) setStatus(ctx context.Context, run *types.Run, status types.RunStatus, errMsg string) {
	run.Status = status
	run.Error = errMsg
	if r.store == nil {
		return
	}
	if err := r.store.UpdateRunStatus(ctx, run.ID, status, errMsg, "", completedAtFor(status)); err != nil {
		r.logger.Warn("failed to persist run status", zap.Error(err), zap.String("run_id", run.ID))
	}
}

func (r *Runner) fail(ctx context.Context, run *types.Run, code types.ErrorCode, message string) error {
	r.setStatus(ctx, run, types.RunFailed, message)
	return types.NewError(code, message)
}

func (r *Runner) cancel(ctx context.Context, run *types.Run) error {
	r.setStatus(ctx, run, types.RunCancelled, "cancelled")
	return types.NewError(types.ErrCancelled, "run was cancelled")
}

func (r *Runner) complete(ctx context.Context, run *types.Run, summary string) error {
	run.Result = summary
	run.Status = types.RunCompleted
	if r.store != nil {
		if err := r.store.UpdateRunStatus(ctx, run.ID, types.RunCompleted, "", summary, completedAtFor(types.RunCompleted)); err != nil {
			r.logger.Warn("failed to persist run completion", zap.Error(err), zap.String("run_id", run.ID))
		}
	}
	return nil
}

// completedAtFor stamps a completion time for terminal statuses only;
// Running never sets completed_at.
func completedAtFor(status types.RunStatus) *time.Time {
	if !status.Terminal() {
		return nil
	}
	now := time.Now()
	return &now
}
