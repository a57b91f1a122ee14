// Package session is the process-wide Session Manager (spec component
// 4.F): a registry of in-flight recordings and runs, their cancellation
// tokens and join handles, grace-window stop escalation and terminal-state
// garbage collection. It owns no domain logic — the Recording Engine and
// the Agent Run Loop are what actually do the work; this package only
// tracks, cancels and reaps.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// Kind discriminates what a session is running.
type Kind string

const (
	KindRecording Kind = "recording"
	KindRun       Kind = "run"
)

// DefaultGraceWindow is how long Stop waits for clean termination before
// escalating to forceful teardown, per spec §4.F.
const DefaultGraceWindow = 30 * time.Second

// gcSweepInterval is how often the reaper checks for sessions past their
// retention window.
const gcSweepInterval = 1 * time.Minute

// terminalRetention is how long a terminal session is kept around to
// serve late status polls before being purged, per spec §4.F.
const terminalRetention = 5 * time.Minute

// Gauges are registered once at package scope, not per Manager: promauto
// registers against the global default registerer, and a process only
// ever runs one Manager at a time.
var (
	activeRecordingsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tasker",
		Name:      "active_recordings",
		Help:      "Number of recording sessions currently in flight.",
	})
	activeRunsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tasker",
		Name:      "active_runs",
		Help:      "Number of agent runs currently in flight.",
	})
)

// entry is one registry row: {kind, cancel_handle, join_handle, started_at}
// plus the bookkeeping the reaper and Stop need.
type entry struct {
	id         string
	kind       Kind
	cancel     context.CancelFunc
	forceStop  func()
	done       chan struct{}
	startedAt  time.Time
	mu         sync.Mutex
	terminalAt *time.Time
	runErr     error
}

// Manager is the process-wide session registry. One Manager is created at
// startup and shared by the API surface.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	logger   *zap.Logger

	stopGC chan struct{}
	gcDone chan struct{}
}

// NewManager creates a Manager and starts its background GC sweep.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions: make(map[string]*entry),
		logger:   logger.With(zap.String("component", "session_manager")),
		stopGC:   make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Start registers a session under id and runs work in its own goroutine.
// id is supplied by the caller rather than generated here, matching the
// rest of the core (Store never mints ids either): a run's session_id is
// its run_id, so the API surface's cancel/stop endpoints can address both
// the Store row and the in-flight task through a single identifier. work
// receives a context it must observe at every suspension point (next
// snapshot, next LLM call, next tool dispatch); cancelling that context is
// how Cancel/Stop ask the task to unwind. forceStop, if non-nil, is
// invoked by Stop when the grace window elapses without work returning
// (e.g. to kill the underlying Chromium process out from under a stuck CDP
// call).
func (m *Manager) Start(id string, kind Kind, work func(ctx context.Context) error, forceStop func()) {
	ctx, cancel := context.WithCancel(context.Background())

	e := &entry{
		id:        id,
		kind:      kind,
		cancel:    cancel,
		forceStop: forceStop,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()
	m.gaugeFor(kind).Inc()

	m.logger.Info("session started", zap.String("session_id", id), zap.String("kind", string(kind)))

	go func() {
		err := work(ctx)

		e.mu.Lock()
		e.runErr = err
		now := time.Now()
		e.terminalAt = &now
		e.mu.Unlock()

		close(e.done)
		m.gaugeFor(kind).Dec()
		m.logger.Info("session finished", zap.String("session_id", id), zap.Error(err))
	}()
}

func (m *Manager) gaugeFor(kind Kind) prometheus.Gauge {
	if kind == KindRecording {
		return activeRecordingsGauge
	}
	return activeRunsGauge
}

// Cancel sets the session's cancellation flag. The task observes it at
// its next suspension point and unwinds cleanly; Cancel does not block.
func (m *Manager) Cancel(sessionID string) error {
	e, ok := m.get(sessionID)
	if !ok {
		return types.NewError(types.ErrNotFound, "session not found")
	}
	e.cancel()
	return nil
}

// Stop cancels the session and waits up to grace for clean termination,
// then escalates to forceStop. A grace <= 0 uses DefaultGraceWindow.
func (m *Manager) Stop(sessionID string, grace time.Duration) error {
	e, ok := m.get(sessionID)
	if !ok {
		return types.NewError(types.ErrNotFound, "session not found")
	}
	if grace <= 0 {
		grace = DefaultGraceWindow
	}

	e.cancel()
	select {
	case <-e.done:
		return nil
	case <-time.After(grace):
	}

	m.logger.Warn("grace window exceeded, escalating to forceful teardown",
		zap.String("session_id", sessionID), zap.Duration("grace", grace))
	if e.forceStop != nil {
		e.forceStop()
	}

	<-e.done
	return nil
}

// Status reports a session's kind, start time, terminal state and final
// error (if any). ok is false if the session was never registered or has
// already been garbage collected.
func (m *Manager) Status(sessionID string) (kind Kind, startedAt time.Time, terminal bool, runErr error, ok bool) {
	e, ok := m.get(sessionID)
	if !ok {
		return "", time.Time{}, false, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind, e.startedAt, e.terminalAt != nil, e.runErr, true
}

func (m *Manager) get(sessionID string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	return e, ok
}

// Close stops the GC sweep. It does not cancel in-flight sessions.
func (m *Manager) Close() {
	close(m.stopGC)
	<-m.gcDone
}

// gcLoop purges sessions that have been terminal for longer than
// terminalRetention, per spec §4.F: "terminal sessions are retained for 5
// minutes to serve late status polls, then purged."
func (m *Manager) gcLoop() {
	defer close(m.gcDone)
	ticker := time.NewTicker(gcSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopGC:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		e.mu.Lock()
		expired := e.terminalAt != nil && now.Sub(*e.terminalAt) > terminalRetention
		e.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			m.logger.Debug("session garbage collected", zap.String("session_id", id))
		}
	}
}
