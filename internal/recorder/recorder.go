// Package recorder is the Recording Engine (spec component 4.C): it
// launches Chromium, injects a capture script into every frame, and
// ingests the structured events the page posts back into a deduplicated,
// ordered trace.
package recorder

import (
	_ "embed"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/internal/browser"
	"github.com/BaSui01/tasker/types"
)

//go:embed capture.js
var captureScript string

// inputCoalesceWindow is the quiescence window spec §4.C specifies for
// input-event coalescing.
const inputCoalesceWindow = 500 * time.Millisecond

// scrollDropThreshold drops scroll events below this delta, per spec §4.C.
const scrollDropThreshold = 100.0

// Describer synthesizes a workflow name + task description from a trace.
// Implemented by the LLM client at stop time (spec §4.C, §4.D).
type Describer interface {
	Describe(ctx context.Context, events []types.ActionEvent) (name, description string, err error)
}

// Engine is one recording session's state.
type Engine struct {
	mu          sync.Mutex
	status      types.RecordingStatus
	events      []types.ActionEvent
	lastInputAt map[int]time.Time // element index -> last input event time, for coalescing
	inputIdx    map[int]int       // element index -> slot in events, for coalescing

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	describer Describer
	logger    *zap.Logger
	startedAt time.Time
	onEvent   func(types.ActionEvent)
}

// SetOnEvent registers a callback invoked once per event actually appended
// to the trace (after coalescing and drop filtering), so callers can stream
// recording_step notifications live rather than only on Status polls.
func (e *Engine) SetOnEvent(fn func(types.ActionEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

// Start launches Chromium, injects the capture script into every frame,
// and marks the session recording.
func Start(ctx context.Context, cfg browser.Config, describer Describer, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	chromedpCtx, cancel := chromedp.NewContext(allocCtx)

	e := &Engine{
		status:      types.RecordingInitializing,
		lastInputAt: map[int]time.Time{},
		inputIdx:    map[int]int{},
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         chromedpCtx,
		cancel:      cancel,
		describer:   describer,
		logger:      log.With(zap.String("component", "recorder")),
		startedAt:   time.Now(),
	}

	chromedp.ListenTarget(chromedpCtx, e.onCDPEvent)

	err := chromedp.Run(chromedpCtx,
		runtime.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.AddScriptToEvaluateOnNewDocument(captureScript).Do(ctx)
		}),
		runtime.AddBinding("taskerRecorder"),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		allocCancel()
		cancel()
		return nil, types.NewError(types.ErrBrowserError, "failed to start recording browser").WithCause(err)
	}

	e.mu.Lock()
	e.status = types.RecordingRecording
	e.mu.Unlock()

	return e, nil
}

// onCDPEvent is chromedp's target event callback; it filters for the
// binding-called events the injected capture script posts.
func (e *Engine) onCDPEvent(ev any) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != "taskerRecorder" {
		return
	}
	e.ingestRaw(called.Payload)
}

type rawEvent struct {
	Kind      string             `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	URL       string             `json:"url"`
	Element   *types.ElementInfo `json:"element,omitempty"`
	Value     string             `json:"value,omitempty"`
	TargetURL string             `json:"target_url,omitempty"`
	DeltaX    float64            `json:"delta_x,omitempty"`
	DeltaY    float64            `json:"delta_y,omitempty"`
}

func (e *Engine) ingestRaw(payload string) {
	var raw rawEvent
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		e.logger.Warn("failed to decode capture event", zap.Error(err))
		return
	}

	e.mu.Lock()

	if e.status == types.RecordingPaused {
		e.mu.Unlock()
		return // spec §4.C: "Events received while paused are dropped."
	}

	if raw.Kind == "scroll" {
		if math.Abs(raw.DeltaX) < scrollDropThreshold && math.Abs(raw.DeltaY) < scrollDropThreshold {
			e.mu.Unlock()
			return // spec §4.C: "scroll events below a 100px delta are dropped."
		}
	}

	evt := types.ActionEvent{
		Kind:      types.ActionKind(raw.Kind),
		Timestamp: raw.Timestamp,
		URL:       raw.URL,
		Element:   raw.Element,
		Value:     raw.Value,
		TargetURL: raw.TargetURL,
		DeltaX:    raw.DeltaX,
		DeltaY:    raw.DeltaY,
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	if evt.Kind == types.ActionInput && evt.Element != nil {
		idx := evt.Element.Index
		if last, ok := e.lastInputAt[idx]; ok && evt.Timestamp.Sub(last) <= inputCoalesceWindow {
			// Collapse into the existing entry's value (spec §4.C / §8
			// invariant: "contains exactly one input event with the last
			// observed value" for bursts within the quiescence window).
			slot := e.inputIdx[idx]
			e.events[slot].Value = evt.Value
			e.events[slot].Timestamp = evt.Timestamp
			e.lastInputAt[idx] = evt.Timestamp
			onEvent := e.onEvent
			e.mu.Unlock()
			if onEvent != nil {
				onEvent(evt)
			}
			return
		}
		e.lastInputAt[idx] = evt.Timestamp
		e.inputIdx[idx] = len(e.events)
	}

	e.events = append(e.events, evt)
	onEvent := e.onEvent
	e.mu.Unlock()

	if onEvent != nil {
		onEvent(evt)
	}
}

// Pause stops ingesting new events without tearing down the browser.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == types.RecordingRecording {
		e.status = types.RecordingPaused
	}
}

// Resume resumes ingestion after Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == types.RecordingPaused {
		e.status = types.RecordingRecording
	}
}

// Status reports current state and event count for GET /recordings/{id}.
func (e *Engine) Status() (types.RecordingStatus, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, len(e.events)
}

// Stop tears down Chromium and, if a Describer was configured, invokes it
// once on the final trace to synthesize a name + task description.
func (e *Engine) Stop(ctx context.Context) (name, description string, err error) {
	e.mu.Lock()
	e.status = types.RecordingStopping
	events := append([]types.ActionEvent(nil), e.events...)
	e.mu.Unlock()

	e.teardown()

	e.mu.Lock()
	e.status = types.RecordingStopped
	e.mu.Unlock()

	if e.describer == nil {
		return fmt.Sprintf("Recording %s", e.startedAt.Format(time.RFC3339)), synthesizeFallbackDescription(events), nil
	}
	name, description, err = e.describer.Describe(ctx, events)
	if err != nil {
		return "", "", types.NewError(types.ErrLLMBadResponse, "failed to synthesize task description").WithCause(err)
	}
	return name, description, nil
}

// Cancel tears down Chromium and discards events without describing them.
func (e *Engine) Cancel() {
	e.teardown()
	e.mu.Lock()
	e.status = types.RecordingStopped
	e.events = nil
	e.mu.Unlock()
}

func (e *Engine) teardown() {
	e.cancel()
	e.allocCancel()
}

// synthesizeFallbackDescription is used only when no Describer is wired
// (e.g. unit tests); production always configures one.
func synthesizeFallbackDescription(events []types.ActionEvent) string {
	if len(events) == 0 {
		return "An empty recording with no captured actions."
	}
	return fmt.Sprintf("A recorded session of %d actions starting at %s.", len(events), events[0].URL)
}
