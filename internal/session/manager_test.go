package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStart_RunsWorkAndReachesTerminal(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	const id = "run-1"
	done := make(chan struct{})
	m.Start(id, KindRun, func(ctx context.Context) error {
		close(done)
		return nil
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("work never ran")
	}

	deadline := time.Now().Add(time.Second)
	for {
		_, _, terminal, _, ok := m.Status(id)
		if !ok {
			t.Fatal("session disappeared before terminal")
		}
		if terminal {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never reached terminal state")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancel_UnblocksWorkViaContext(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	const id = "rec-1"
	started := make(chan struct{})
	m.Start(id, KindRecording, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	<-started
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		_, _, terminal, _, ok := m.Status(id)
		if ok && terminal {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("cancellation did not unblock work")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancel_UnknownSessionReturnsNotFound(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	if err := m.Cancel("does-not-exist"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestStop_ReturnsPromptlyWhenWorkStopsWithinGrace(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	const id = "run-2"
	m.Start(id, KindRun, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	start := time.Now()
	if err := m.Stop(id, 2*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Stop took too long for clean termination: %v", time.Since(start))
	}
}

func TestStop_EscalatesToForceStopAfterGraceWindow(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	const id = "run-3"
	forced := make(chan struct{})
	workDone := make(chan struct{})
	m.Start(id, KindRun, func(ctx context.Context) error {
		<-forced // only unblocks once forceStop fires, ignoring ctx cancellation
		close(workDone)
		return nil
	}, func() {
		close(forced)
	})

	if err := m.Stop(id, 20*time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-workDone:
	default:
		t.Fatal("expected work to have completed after forced teardown")
	}
}

func TestStop_UnknownSessionReturnsNotFound(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	if err := m.Stop("does-not-exist", time.Second); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestSweep_PurgesSessionsPastRetention(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	const id = "run-4"
	m.Start(id, KindRun, func(ctx context.Context) error { return nil }, nil)

	deadline := time.Now().Add(time.Second)
	for {
		_, _, terminal, _, _ := m.Status(id)
		if terminal {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never went terminal")
		}
		time.Sleep(time.Millisecond)
	}

	m.sweep(time.Now().Add(terminalRetention + time.Minute))

	if _, _, _, _, ok := m.Status(id); ok {
		t.Fatal("expected session to be purged after retention window")
	}
}

func TestSweep_KeepsRecentTerminalSessions(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	const id = "run-5"
	m.Start(id, KindRun, func(ctx context.Context) error { return nil }, nil)

	deadline := time.Now().Add(time.Second)
	for {
		_, _, terminal, _, _ := m.Status(id)
		if terminal {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never went terminal")
		}
		time.Sleep(time.Millisecond)
	}

	m.sweep(time.Now())

	if _, _, _, _, ok := m.Status(id); !ok {
		t.Fatal("session purged before retention window elapsed")
	}
}
