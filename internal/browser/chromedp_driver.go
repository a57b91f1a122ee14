package browser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

//go:embed snapshot.js
var snapshotScript string

// ChromeDPDriver implements Driver on top of chromedp. One instance owns
// exactly one Chromium process for the run or recording that created it.
type ChromeDPDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	knownIndices  map[int]bool // indices valid as of the last Snapshot
	snapshotTaken bool

	tabs   []chromeTab // every open tab, in creation order
	active int         // index into tabs that d.ctx/d.cancel currently mirror
}

// chromeTab is one chromedp target. d.ctx/d.cancel always mirror
// tabs[active] so every existing method that operates on d.ctx keeps
// working unmodified against whichever tab is active.
type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChromeDPDriver launches Chromium with the given Config and returns a
// ready Driver. Mirrors the teacher's NewChromeDPDriver/ExecAllocatorOptions
// shape in agent/browser/chromedp_driver.go, generalized to the full
// indexed-addressing operation surface spec §4.B requires.
func NewChromeDPDriver(cfg Config, log *zap.Logger) (*ChromeDPDriver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ViewportWidth == 0 || cfg.ViewportHeight == 0 {
		def := DefaultConfig()
		cfg.ViewportWidth, cfg.ViewportHeight = def.ViewportWidth, def.ViewportHeight
	}
	if cfg.ActionTimeout == 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if cfg.ImplicitWait == 0 {
		cfg.ImplicitWait = DefaultConfig().ImplicitWait
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromiumPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		allocCancel()
		cancel()
		return nil, types.NewError(types.ErrBrowserError, "failed to start browser").WithCause(err)
	}

	log.Info("chromium started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_w", cfg.ViewportWidth),
		zap.Int("viewport_h", cfg.ViewportHeight))

	return &ChromeDPDriver{
		allocCtx:     allocCtx,
		allocCancel:  allocCancel,
		ctx:          ctx,
		cancel:       cancel,
		cfg:          cfg,
		logger:       log.With(zap.String("component", "chromedp_driver")),
		knownIndices: map[int]bool{},
		tabs:         []chromeTab{{ctx: ctx, cancel: cancel}},
		active:       0,
	}, nil
}

// withTimeout derives a bounded context from the driver's chromedp context
// (chromedp.Run needs a context rooted via chromedp.NewContext to know which
// browser/tab to target, so timeouts are layered on d.ctx, not the caller's
// ctx), so every action fails with Timeout rather than hanging past
// ActionTimeout.
func (d *ChromeDPDriver) withTimeout(_ context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(d.ctx, d.cfg.ActionTimeout)
}

// implicitWait blocks briefly for the DOM to settle after a mutating
// action, per spec §4.B "Implicit waits".
func (d *ChromeDPDriver) implicitWait(ctx context.Context) {
	var ready string
	deadline := time.Now().Add(d.cfg.ImplicitWait)
	for time.Now().Before(deadline) {
		if err := chromedp.Run(ctx, chromedp.Evaluate(`document.readyState`, &ready)); err == nil {
			if ready == "interactive" || ready == "complete" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (d *ChromeDPDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	d.logger.Debug("navigating", zap.String("url", url))
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrTimeout, "navigate timed out").WithCause(err)
		}
		return types.NewError(types.ErrBrowserError, "navigate failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	d.snapshotTaken = false
	return nil
}

type jsSnapshot struct {
	URL      string                   `json:"url"`
	Title    string                   `json:"title"`
	Elements []types.ElementSnapshot  `json:"elements"`
}

func (d *ChromeDPDriver) Snapshot(ctx context.Context) (*types.PageSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	_ = ctx

	var raw string
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(snapshotScript, &raw)); err != nil {
		return nil, types.NewError(types.ErrBrowserError, "snapshot evaluate failed").WithCause(err)
	}

	var parsed jsSnapshot
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, types.NewError(types.ErrBrowserError, "snapshot decode failed").WithCause(err)
	}

	var buf []byte
	if err := chromedp.Run(d.ctx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, types.NewError(types.ErrBrowserError, "screenshot failed").WithCause(err)
	}

	d.knownIndices = make(map[int]bool, len(parsed.Elements))
	for _, el := range parsed.Elements {
		d.knownIndices[el.Index] = true
	}
	d.snapshotTaken = true

	return &types.PageSnapshot{
		Screenshot: buf,
		URL:        parsed.URL,
		Title:      parsed.Title,
		Elements:   parsed.Elements,
		TakenAt:    time.Now(),
	}, nil
}

// locate resolves index (from the last Snapshot) to live page coordinates.
// Returns ElementStale if the index is unknown or the node is gone from
// the DOM, ElementNotVisible if it cannot be brought on-screen.
func (d *ChromeDPDriver) locate(ctx context.Context, index int) (x, y float64, err error) {
	if !d.snapshotTaken || !d.knownIndices[index] {
		return 0, 0, types.NewError(types.ErrElementStale, "element index is not from the current snapshot")
	}

	script := fmt.Sprintf(`(function(){
		var el = null;
		document.querySelectorAll('*').forEach(function(n){ if (n.__taskerIndex === %d) el = n; });
		if (!el) return JSON.stringify({found:false});
		el.scrollIntoView({block:'center', inline:'center'});
		var r = el.getBoundingClientRect();
		return JSON.stringify({found:true, x:r.x+r.width/2, y:r.y+r.height/2, w:r.width, h:r.height});
	})()`, index)

	var raw string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return 0, 0, types.NewError(types.ErrBrowserError, "locate failed").WithCause(err)
	}

	var res struct {
		Found bool    `json:"found"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		W     float64 `json:"w"`
		H     float64 `json:"h"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &res); jsonErr != nil {
		return 0, 0, types.NewError(types.ErrBrowserError, "locate decode failed").WithCause(jsonErr)
	}
	if !res.Found {
		return 0, 0, types.NewError(types.ErrElementStale, "element no longer present in the DOM")
	}
	if res.W <= 0 || res.H <= 0 {
		return 0, 0, types.NewError(types.ErrElementNotVisible, "element has no visible area after scroll")
	}
	return res.X, res.Y, nil
}

func (d *ChromeDPDriver) Click(ctx context.Context, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	x, y, err := d.locate(ctx, index)
	if err != nil {
		return err
	}

	err = chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
	)
	if err != nil {
		return types.NewError(types.ErrBrowserError, "click dispatch failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	return nil
}

func (d *ChromeDPDriver) Type(ctx context.Context, index int, text string, clearFirst bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	x, y, err := d.locate(ctx, index)
	if err != nil {
		return err
	}

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
	}
	if clearFirst {
		actions = append(actions,
			chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
			chromedp.KeyEvent(kb.Enter),
		)
	}
	for _, ch := range text {
		r := ch
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchKeyEvent(input.KeyChar).WithText(string(r)).Do(ctx)
		}))
	}

	if err := chromedp.Run(ctx, actions...); err != nil {
		return types.NewError(types.ErrBrowserError, "type dispatch failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	return nil
}

func (d *ChromeDPDriver) SelectDropdownOption(ctx context.Context, index int, option string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.snapshotTaken || !d.knownIndices[index] {
		return types.NewError(types.ErrElementStale, "element index is not from the current snapshot")
	}

	script := fmt.Sprintf(`(function(){
		var el = null;
		document.querySelectorAll('select').forEach(function(n){ if (n.__taskerIndex === %d) el = n; });
		if (!el) return JSON.stringify({ok:false, reason:"stale"});
		var matched = null;
		for (var i=0;i<el.options.length;i++){
			var o = el.options[i];
			if (o.value === %s || o.text === %s) { matched = o.value; break; }
		}
		if (matched === null) return JSON.stringify({ok:false, reason:"no_match"});
		el.value = matched;
		el.dispatchEvent(new Event('change', {bubbles:true}));
		return JSON.stringify({ok:true});
	})()`, index, jsString(option), jsString(option))

	var raw string
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return types.NewError(types.ErrBrowserError, "select dropdown failed").WithCause(err)
	}
	var res struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal([]byte(raw), &res)
	if !res.OK {
		if res.Reason == "stale" {
			return types.NewError(types.ErrElementStale, "select element no longer present")
		}
		return types.NewError(types.ErrInvalidInput, "no option matched "+option)
	}
	d.implicitWait(d.ctx)
	return nil
}

func (d *ChromeDPDriver) GetDropdownOptions(ctx context.Context, index int) ([]types.DropdownOption, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	script := fmt.Sprintf(`(function(){
		var el = null;
		document.querySelectorAll('select').forEach(function(n){ if (n.__taskerIndex === %d) el = n; });
		if (!el) return JSON.stringify([]);
		var out = [];
		for (var i=0;i<el.options.length;i++){
			var o = el.options[i];
			out.push({value:o.value, text:o.text, selected:o.selected});
		}
		return JSON.stringify(out);
	})()`, index)

	var raw string
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, types.NewError(types.ErrBrowserError, "get dropdown options failed").WithCause(err)
	}
	var out []types.DropdownOption
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, types.NewError(types.ErrBrowserError, "decode dropdown options failed").WithCause(err)
	}
	return out, nil
}

func (d *ChromeDPDriver) Scroll(ctx context.Context, direction types.ScrollDirection, amountPx int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if amountPx <= 0 {
		amountPx = 400
	}
	var dx, dy float64
	switch direction {
	case types.ScrollUp:
		dy = -float64(amountPx)
	case types.ScrollDown:
		dy = float64(amountPx)
	case types.ScrollLeft:
		dx = -float64(amountPx)
	case types.ScrollRight:
		dx = float64(amountPx)
	default:
		dy = float64(amountPx)
	}

	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, 0, 0).WithDeltaX(dx).WithDeltaY(dy).Do(ctx)
	}))
	if err != nil {
		return types.NewError(types.ErrBrowserError, "scroll dispatch failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	return nil
}

func (d *ChromeDPDriver) SendKeys(ctx context.Context, keys string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts := strings.Split(keys, "+")
	var mods input.Modifier
	key := parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(p) {
		case "control", "ctrl":
			mods |= input.ModifierCtrl
		case "shift":
			mods |= input.ModifierShift
		case "alt":
			mods |= input.ModifierAlt
		case "meta", "cmd":
			mods |= input.ModifierMeta
		}
	}

	err := chromedp.Run(d.ctx, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods)))
	if err != nil {
		return types.NewError(types.ErrBrowserError, "send keys failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	return nil
}

func (d *ChromeDPDriver) GoBack(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := chromedp.Run(d.ctx, chromedp.NavigateBack()); err != nil {
		return types.NewError(types.ErrBrowserError, "go back failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	d.snapshotTaken = false
	return nil
}

func (d *ChromeDPDriver) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := chromedp.Run(d.ctx, chromedp.Reload()); err != nil {
		return types.NewError(types.ErrBrowserError, "reload failed").WithCause(err)
	}
	d.implicitWait(d.ctx)
	d.snapshotTaken = false
	return nil
}

// NewTab opens a target and makes it the active tab. Prior tabs stay open
// in d.tabs so SwitchTab can return to them later.
func (d *ChromeDPDriver) NewTab(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	newCtx, newCancel := chromedp.NewContext(d.allocCtx)
	target := url
	if target == "" {
		target = "about:blank"
	}
	if err := chromedp.Run(newCtx, chromedp.Navigate(target)); err != nil {
		newCancel()
		return types.NewError(types.ErrBrowserError, "new tab failed").WithCause(err)
	}

	d.tabs = append(d.tabs, chromeTab{ctx: newCtx, cancel: newCancel})
	d.active = len(d.tabs) - 1
	d.ctx, d.cancel = newCtx, newCancel
	d.snapshotTaken = false
	return nil
}

// CloseTab cancels the active target and drops it from the tab list. The
// last remaining tab can't be closed; callers that want to end the session
// entirely should use Close instead.
func (d *ChromeDPDriver) CloseTab(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.tabs) <= 1 {
		return types.NewError(types.ErrBrowserError, "cannot close the only open tab")
	}

	closed := d.active
	d.tabs[closed].cancel()
	d.tabs = append(d.tabs[:closed], d.tabs[closed+1:]...)

	if d.active >= len(d.tabs) {
		d.active = len(d.tabs) - 1
	}
	d.ctx, d.cancel = d.tabs[d.active].ctx, d.tabs[d.active].cancel
	d.snapshotTaken = false
	return nil
}

// SwitchTab makes the tab at index (in NewTab creation order, 0-based) the
// active one.
func (d *ChromeDPDriver) SwitchTab(ctx context.Context, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.tabs) {
		return types.NewError(types.ErrInvalidInput, fmt.Sprintf("tab index %d out of range (%d tabs open)", index, len(d.tabs)))
	}

	d.active = index
	d.ctx, d.cancel = d.tabs[index].ctx, d.tabs[index].cancel
	d.snapshotTaken = false
	return nil
}

func (d *ChromeDPDriver) ExecuteJavaScript(ctx context.Context, script string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var raw any
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return "", types.NewError(types.ErrBrowserError, "execute_javascript failed").WithCause(err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", types.NewError(types.ErrBrowserError, "execute_javascript result not JSON-serializable").WithCause(err)
	}
	return truncate(string(encoded)), nil
}

func (d *ChromeDPDriver) ExtractPageContent(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var text string
	script := `document.body ? document.body.innerText : ""`
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", types.NewError(types.ErrBrowserError, "extract_page_content failed").WithCause(err)
	}
	return normalizeWhitespace(text), nil
}

func (d *ChromeDPDriver) ReadFile(ctx context.Context, path string) ([]byte, error) {
	abs, err := resolveWorkingPath(d.cfg.WorkingDir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "read_file failed").WithCause(err)
	}
	return data, nil
}

func (d *ChromeDPDriver) WriteFile(ctx context.Context, path string, data []byte) (string, error) {
	abs, err := resolveWorkingPath(d.cfg.WorkingDir, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(parentDir(abs), 0o755); err != nil {
		return "", types.NewError(types.ErrStoreError, "write_file mkdir failed").WithCause(err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", types.NewError(types.ErrStoreError, "write_file failed").WithCause(err)
	}
	return abs, nil
}

func (d *ChromeDPDriver) ReplaceInFile(ctx context.Context, path, find, replace string) error {
	abs, err := resolveWorkingPath(d.cfg.WorkingDir, path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return types.NewError(types.ErrInvalidInput, "replace_in_file failed").WithCause(err)
	}
	updated := strings.ReplaceAll(string(data), find, replace)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return types.NewError(types.ErrStoreError, "replace_in_file write failed").WithCause(err)
	}
	return nil
}

func (d *ChromeDPDriver) Wait(_ context.Context, cond types.WaitCondition) error {
	ctx := d.ctx
	timeout := cond.Timeout
	if timeout <= 0 {
		timeout = d.cfg.ActionTimeout
	}
	deadline := time.Now().Add(timeout)

	switch cond.Kind {
	case "delay":
		time.Sleep(cond.Delay)
		return nil
	case "url_match":
		for time.Now().Before(deadline) {
			u, err := d.CurrentURL(ctx)
			if err == nil && strings.Contains(u, cond.Pattern) {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return types.NewError(types.ErrTimeout, "wait url_match timed out")
	case "element_visible":
		for time.Now().Before(deadline) {
			if _, _, err := d.locate(ctx, cond.Index); err == nil {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return types.NewError(types.ErrTimeout, "wait element_visible timed out")
	case "element_hidden":
		for time.Now().Before(deadline) {
			if _, _, err := d.locate(ctx, cond.Index); err != nil {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return types.NewError(types.ErrTimeout, "wait element_hidden timed out")
	default:
		return types.NewError(types.ErrInvalidInput, "unknown wait condition "+cond.Kind)
	}
}

func (d *ChromeDPDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(d.ctx, chromedp.Location(&url)); err != nil {
		return "", types.NewError(types.ErrBrowserError, "get current url failed").WithCause(err)
	}
	return url, nil
}

func (d *ChromeDPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("closing chromium", zap.Int("open_tabs", len(d.tabs)))
	for _, t := range d.tabs {
		t.cancel()
	}
	d.allocCancel()
	return nil
}

func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
