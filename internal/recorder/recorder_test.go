package recorder

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

func newTestEngine() *Engine {
	return &Engine{
		status:      types.RecordingRecording,
		lastInputAt: map[int]time.Time{},
		inputIdx:    map[int]int{},
		logger:      zap.NewNop(),
	}
}

func rawPayload(t *testing.T, kind string, ts time.Time, elIndex int, value string, deltaX, deltaY float64) string {
	t.Helper()
	var el string
	if elIndex >= 0 {
		el = `,"element":{"index":` + strconv.Itoa(elIndex) + `}`
	}
	return `{"kind":"` + kind + `","timestamp":"` + ts.Format(time.RFC3339Nano) + `","url":"https://example.com"` + el +
		`,"value":"` + value + `","delta_x":` + strconv.FormatFloat(deltaX, 'f', 0, 64) +
		`,"delta_y":` + strconv.FormatFloat(deltaY, 'f', 0, 64) + `}`
}

func TestIngest_DropsEventsWhilePaused(t *testing.T) {
	e := newTestEngine()
	e.status = types.RecordingPaused

	e.ingestRaw(rawPayload(t, "click", time.Now(), 1, "", 0, 0))

	require.Empty(t, e.events)
}

func TestIngest_DropsSmallScrolls(t *testing.T) {
	e := newTestEngine()

	e.ingestRaw(rawPayload(t, "scroll", time.Now(), -1, "", 50, 50))
	require.Empty(t, e.events, "scroll deltas under the 100px threshold must be dropped")

	e.ingestRaw(rawPayload(t, "scroll", time.Now(), -1, "", 0, 150))
	require.Len(t, e.events, 1, "a scroll delta at or above the threshold on either axis is kept")
}

func TestIngest_CoalescesInputWithinQuiescenceWindow(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	e.ingestRaw(rawPayload(t, "input", base, 7, "h", 0, 0))
	e.ingestRaw(rawPayload(t, "input", base.Add(100*time.Millisecond), 7, "he", 0, 0))
	e.ingestRaw(rawPayload(t, "input", base.Add(200*time.Millisecond), 7, "hello", 0, 0))

	require.Len(t, e.events, 1, "bursts within the 500ms window collapse into one entry")
	require.Equal(t, "hello", e.events[0].Value)

	e.ingestRaw(rawPayload(t, "input", base.Add(900*time.Millisecond), 7, "hello world", 0, 0))
	require.Len(t, e.events, 2, "an input after the quiescence window starts a new entry")
}

func TestIngest_DistinctElementsDoNotCoalesce(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	e.ingestRaw(rawPayload(t, "input", base, 1, "a", 0, 0))
	e.ingestRaw(rawPayload(t, "input", base.Add(10*time.Millisecond), 2, "b", 0, 0))

	require.Len(t, e.events, 2)
}

func TestStatus_ReportsCountAndState(t *testing.T) {
	e := newTestEngine()
	e.ingestRaw(rawPayload(t, "click", time.Now(), 1, "", 0, 0))

	status, count := e.Status()
	require.Equal(t, types.RecordingRecording, status)
	require.Equal(t, 1, count)
}

func TestPauseResume_TogglesIngestion(t *testing.T) {
	e := newTestEngine()
	e.Pause()
	e.ingestRaw(rawPayload(t, "click", time.Now(), 1, "", 0, 0))
	require.Empty(t, e.events)

	e.Resume()
	e.ingestRaw(rawPayload(t, "click", time.Now(), 1, "", 0, 0))
	require.Len(t, e.events, 1)
}
