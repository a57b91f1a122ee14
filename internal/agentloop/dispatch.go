package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// dispatch executes one tool call against the CDP Driver or Store and
// returns the ToolResult the history expects. save_note/recall_notes/done
// are handled by the caller before reaching here.
func (r *Runner) dispatch(ctx context.Context, runID string, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result, err := r.dispatchOne(ctx, runID, call)
	duration := time.Since(start)

	tr := types.ToolResult{ToolCallID: call.ID, Name: call.Name, DurationMS: duration.Milliseconds()}
	if err != nil {
		tr.Success = false
		tr.Error = err.Error()
	} else {
		tr.Success = true
		tr.Result = result
	}

	r.logger.Debug("dispatched tool call",
		zap.String("tool", call.Name), zap.Bool("success", tr.Success), zap.Duration("duration", duration))

	return tr
}

func (r *Runner) dispatchOne(ctx context.Context, runID string, call types.ToolCall) (string, error) {
	d := r.driver
	p := call.Params

	switch call.Name {
	case toolNavigate:
		url, err := stringParam(p, "url")
		if err != nil {
			return "", err
		}
		return "", d.Navigate(ctx, url)

	case toolClick:
		idx, err := intParam(p, "index")
		if err != nil {
			return "", err
		}
		return "", d.Click(ctx, idx)

	case toolType:
		idx, err := intParam(p, "index")
		if err != nil {
			return "", err
		}
		text, err := stringParam(p, "text")
		if err != nil {
			return "", err
		}
		clearFirst, _ := boolParamOptional(p, "clear_first")
		return "", d.Type(ctx, idx, text, clearFirst)

	case toolSelectDropdownOption:
		idx, err := intParam(p, "index")
		if err != nil {
			return "", err
		}
		option, err := stringParam(p, "option")
		if err != nil {
			return "", err
		}
		return "", d.SelectDropdownOption(ctx, idx, option)

	case toolGetDropdownOptions:
		idx, err := intParam(p, "index")
		if err != nil {
			return "", err
		}
		opts, err := d.GetDropdownOptions(ctx, idx)
		if err != nil {
			return "", err
		}
		return marshalJSON(opts)

	case toolScroll:
		dir, err := stringParam(p, "direction")
		if err != nil {
			return "", err
		}
		amount, _ := intParamOptional(p, "amount_px")
		return "", d.Scroll(ctx, types.ScrollDirection(dir), amount)

	case toolSendKeys:
		keys, err := stringParam(p, "keys")
		if err != nil {
			return "", err
		}
		return "", d.SendKeys(ctx, keys)

	case toolGoBack:
		return "", d.GoBack(ctx)

	case toolReload:
		return "", d.Reload(ctx)

	case toolNewTab:
		url, _ := stringParamOptional(p, "url")
		return "", d.NewTab(ctx, url)

	case toolCloseTab:
		return "", d.CloseTab(ctx)

	case toolSwitchTab:
		idx, err := intParam(p, "index")
		if err != nil {
			return "", err
		}
		return "", d.SwitchTab(ctx, idx)

	case toolExecuteJavaScript:
		script, err := stringParam(p, "script")
		if err != nil {
			return "", err
		}
		return d.ExecuteJavaScript(ctx, script)

	case toolExtractPageContent:
		return d.ExtractPageContent(ctx)

	case toolReadFile:
		path, err := stringParam(p, "path")
		if err != nil {
			return "", err
		}
		data, err := d.ReadFile(ctx, path)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case toolWriteFile:
		path, err := stringParam(p, "path")
		if err != nil {
			return "", err
		}
		content, err := stringParam(p, "content")
		if err != nil {
			return "", err
		}
		abs, err := d.WriteFile(ctx, path, []byte(content))
		if err != nil {
			return "", err
		}
		if r.store != nil {
			_ = r.store.RegisterFile(ctx, &types.StoredFile{
				ID: uuid.NewString(), RunID: runID, FileName: path, FilePath: abs,
				MimeType: "application/octet-stream", FileSize: int64(len(content)),
			})
		}
		return abs, nil

	case toolReplaceInFile:
		path, err := stringParam(p, "path")
		if err != nil {
			return "", err
		}
		find, err := stringParam(p, "find")
		if err != nil {
			return "", err
		}
		replace, _ := stringParamOptional(p, "replace")
		return "", d.ReplaceInFile(ctx, path, find, replace)

	case toolWait:
		cond, err := toWaitCondition(p)
		if err != nil {
			return "", err
		}
		return "", d.Wait(ctx, cond)

	default:
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("unknown tool %q", call.Name))
	}
}

func toWaitCondition(p map[string]any) (types.WaitCondition, error) {
	kind, err := stringParam(p, "kind")
	if err != nil {
		return types.WaitCondition{}, err
	}
	cond := types.WaitCondition{Kind: kind, Timeout: 30 * time.Second}
	if pattern, ok := stringParamOptional(p, "pattern"); ok {
		if _, err := regexp.Compile(pattern); err != nil {
			return types.WaitCondition{}, types.NewError(types.ErrInvalidInput, "invalid url_match pattern").WithCause(err)
		}
		cond.Pattern = pattern
	}
	if idx, ok := intParamOptional(p, "index"); ok {
		cond.Index = idx
	}
	if ms, ok := intParamOptional(p, "delay_ms"); ok {
		cond.Delay = time.Duration(ms) * time.Millisecond
	}
	return cond, nil
}

func stringParam(p map[string]any, key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("missing required param %q", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("param %q must be a string", key))
	}
	return s, nil
}

func stringParamOptional(p map[string]any, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intParam(p map[string]any, key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, types.NewError(types.ErrInvalidInput, fmt.Sprintf("missing required param %q", key))
	}
	return toInt(v), nil
}

func intParamOptional(p map[string]any, key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return toInt(v), true
}

func boolParamOptional(p map[string]any, key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// toInt accepts float64 (the JSON-decoded default) or int, matching
// whatever shape the provider adapter's tool-call JSON decoded into.
func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", types.NewError(types.ErrLLMBadResponse, "failed to marshal tool result").WithCause(err)
	}
	return string(b), nil
}
