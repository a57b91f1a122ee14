// Package browser is the CDP driver (spec component 4.B): Chromium
// lifecycle, tab-scoped operations, DOM snapshotting and indexed-element
// addressing, built on github.com/chromedp/chromedp — the library the
// teacher already reaches for in agent/browser/chromedp_driver.go.
package browser

import (
	"context"
	"time"

	"github.com/BaSui01/tasker/types"
)

// Config configures Chromium launch parameters for one run's browser.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	ChromiumPath   string
	WorkingDir     string // per-run file-tool root

	ActionTimeout  time.Duration // default 30s per spec §4.B
	ImplicitWait   time.Duration // default 2s per spec §4.B
}

// DefaultConfig returns spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		ActionTimeout:  30 * time.Second,
		ImplicitWait:   2 * time.Second,
	}
}

// Driver is the full operation surface spec §4.B requires. One Driver owns
// exactly one Chromium instance for the lifetime of one run or recording.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (*types.PageSnapshot, error)
	Click(ctx context.Context, index int) error
	Type(ctx context.Context, index int, text string, clearFirst bool) error
	SelectDropdownOption(ctx context.Context, index int, option string) error
	GetDropdownOptions(ctx context.Context, index int) ([]types.DropdownOption, error)
	Scroll(ctx context.Context, direction types.ScrollDirection, amountPx int) error
	SendKeys(ctx context.Context, keys string) error
	GoBack(ctx context.Context) error
	Reload(ctx context.Context) error
	NewTab(ctx context.Context, url string) error
	CloseTab(ctx context.Context) error
	SwitchTab(ctx context.Context, index int) error
	ExecuteJavaScript(ctx context.Context, script string) (string, error)
	ExtractPageContent(ctx context.Context) (string, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) (string, error)
	ReplaceInFile(ctx context.Context, path, find, replace string) error
	Wait(ctx context.Context, cond types.WaitCondition) error
	CurrentURL(ctx context.Context) (string, error)
	Close() error
}

// maxJSResultBytes is the truncation threshold for execute_javascript
// results, per spec §4.E tie-break "execute_javascript returns a value
// >64KB, it is truncated with a marker".
const maxJSResultBytes = 64 * 1024

const truncationMarker = "\n...[truncated]"

func truncate(s string) string {
	if len(s) <= maxJSResultBytes {
		return s
	}
	return s[:maxJSResultBytes] + truncationMarker
}
