package agentloop

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// fakeDriver is a scripted browser.Driver stand-in; each field records the
// args it was last called with so tests can assert on routing without a
// real Chromium instance.
type fakeDriver struct {
	navigateURL  string
	clickIndex   int
	typeIndex    int
	typeText     string
	typeClear    bool
	scrollDir    types.ScrollDirection
	scrollAmount int
	jsScript     string
	jsResult     string
	writePath    string
	writeContent []byte
	writeAbs     string
	waitCond     types.WaitCondition
	err          error
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error        { f.navigateURL = url; return f.err }
func (f *fakeDriver) Snapshot(ctx context.Context) (*types.PageSnapshot, error) {
	return &types.PageSnapshot{}, f.err
}
func (f *fakeDriver) Click(ctx context.Context, index int) error { f.clickIndex = index; return f.err }
func (f *fakeDriver) Type(ctx context.Context, index int, text string, clearFirst bool) error {
	f.typeIndex, f.typeText, f.typeClear = index, text, clearFirst
	return f.err
}
func (f *fakeDriver) SelectDropdownOption(ctx context.Context, index int, option string) error {
	return f.err
}
func (f *fakeDriver) GetDropdownOptions(ctx context.Context, index int) ([]types.DropdownOption, error) {
	return []types.DropdownOption{{Value: "a", Text: "A"}}, f.err
}
func (f *fakeDriver) Scroll(ctx context.Context, direction types.ScrollDirection, amountPx int) error {
	f.scrollDir, f.scrollAmount = direction, amountPx
	return f.err
}
func (f *fakeDriver) SendKeys(ctx context.Context, keys string) error          { return f.err }
func (f *fakeDriver) GoBack(ctx context.Context) error                        { return f.err }
func (f *fakeDriver) Reload(ctx context.Context) error                        { return f.err }
func (f *fakeDriver) NewTab(ctx context.Context, url string) error            { return f.err }
func (f *fakeDriver) CloseTab(ctx context.Context) error                      { return f.err }
func (f *fakeDriver) SwitchTab(ctx context.Context, index int) error          { return f.err }
func (f *fakeDriver) ExecuteJavaScript(ctx context.Context, script string) (string, error) {
	f.jsScript = script
	return f.jsResult, f.err
}
func (f *fakeDriver) ExtractPageContent(ctx context.Context) (string, error) { return "page text", f.err }
func (f *fakeDriver) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return []byte("contents"), f.err
}
func (f *fakeDriver) WriteFile(ctx context.Context, path string, data []byte) (string, error) {
	f.writePath, f.writeContent = path, data
	return f.writeAbs, f.err
}
func (f *fakeDriver) ReplaceInFile(ctx context.Context, path, find, replace string) error { return f.err }
func (f *fakeDriver) Wait(ctx context.Context, cond types.WaitCondition) error {
	f.waitCond = cond
	return f.err
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return "", f.err }
func (f *fakeDriver) Close() error                                   { return nil }

func newTestRunner(d *fakeDriver) *Runner {
	return &Runner{driver: d, logger: zap.NewNop()}
}

func TestDispatch_NavigateRoutesURL(t *testing.T) {
	d := &fakeDriver{}
	r := newTestRunner(d)
	tr := r.dispatch(context.Background(), "run1", types.ToolCall{ID: "c1", Name: toolNavigate, Params: map[string]any{"url": "https://example.com"}})
	if !tr.Success {
		t.Fatalf("expected success, got error %q", tr.Error)
	}
	if d.navigateURL != "https://example.com" {
		t.Fatalf("navigate url not routed, got %q", d.navigateURL)
	}
}

func TestDispatch_ClickConvertsFloatIndex(t *testing.T) {
	d := &fakeDriver{}
	r := newTestRunner(d)
	// JSON-decoded tool call params always carry numbers as float64.
	tr := r.dispatch(context.Background(), "run1", types.ToolCall{Name: toolClick, Params: map[string]any{"index": float64(7)}})
	if !tr.Success {
		t.Fatalf("expected success, got %q", tr.Error)
	}
	if d.clickIndex != 7 {
		t.Fatalf("expected index 7, got %d", d.clickIndex)
	}
}

func TestDispatch_MissingRequiredParamFails(t *testing.T) {
	d := &fakeDriver{}
	r := newTestRunner(d)
	tr := r.dispatch(context.Background(), "run1", types.ToolCall{Name: toolClick, Params: map[string]any{}})
	if tr.Success {
		t.Fatalf("expected failure for missing index param")
	}
}

func TestDispatch_TypeDefaultsClearFirstToFalse(t *testing.T) {
	d := &fakeDriver{}
	r := newTestRunner(d)
	tr := r.dispatch(context.Background(), "run1", types.ToolCall{Name: toolType, Params: map[string]any{"index": float64(1), "text": "hi"}})
	if !tr.Success {
		t.Fatalf("expected success, got %q", tr.Error)
	}
	if d.typeClear {
		t.Fatalf("expected clear_first to default false")
	}
}

func TestDispatch_UnknownToolFails(t *testing.T) {
	d := &fakeDriver{}
	r := newTestRunner(d)
	tr := r.dispatch(context.Background(), "run1", types.ToolCall{Name: "not_a_tool"})
	if tr.Success {
		t.Fatalf("expected failure for unknown tool")
	}
}

func TestDispatch_WriteFileSkipsStoreRegistrationWithoutStore(t *testing.T) {
	d := &fakeDriver{writeAbs: "/work/out.txt"}
	r := newTestRunner(d)
	tr := r.dispatch(context.Background(), "run1", types.ToolCall{Name: toolWriteFile, Params: map[string]any{"path": "out.txt", "content": "hello"}})
	if !tr.Success {
		t.Fatalf("expected success, got %q", tr.Error)
	}
	if tr.Result != "/work/out.txt" {
		t.Fatalf("expected abs path result, got %q", tr.Result)
	}
}

func TestToWaitCondition_RejectsInvalidRegex(t *testing.T) {
	_, err := toWaitCondition(map[string]any{"kind": "url_match", "pattern": "(unclosed"})
	if err == nil {
		t.Fatalf("expected error for invalid regex pattern")
	}
}

func TestToWaitCondition_AcceptsDelayKind(t *testing.T) {
	cond, err := toWaitCondition(map[string]any{"kind": "delay", "delay_ms": float64(500)})
	if err != nil {
		t.Fatalf("toWaitCondition: %v", err)
	}
	if cond.Kind != "delay" {
		t.Fatalf("expected kind delay, got %q", cond.Kind)
	}
}
