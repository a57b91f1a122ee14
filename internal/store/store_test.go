package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/tasker/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), DefaultPoolConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendStep_MonotonicNoGaps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &types.Run{ID: uuid.NewString(), TaskDescription: "t", Status: types.RunRunning, StartedAt: time.Now()}
	require.NoError(t, s.CreateRun(ctx, run))

	for i := 0; i < 5; i++ {
		step := &types.RunStep{ID: uuid.NewString(), RunID: run.ID, ToolName: "navigate", Success: true, Timestamp: time.Now()}
		saved, err := s.AppendStep(ctx, step)
		require.NoError(t, err)
		require.Equal(t, i+1, saved.StepNumber)
	}

	steps, err := s.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 5)
	for i, st := range steps {
		require.Equal(t, i+1, st.StepNumber)
	}
}

func TestRegisterFile_ReadBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	f := &types.StoredFile{
		ID: uuid.NewString(), RunID: "run-1", FileName: "out.txt",
		FilePath: path, MimeType: "text/plain", FileSize: 11, CreatedAt: time.Now(),
	}
	require.NoError(t, s.RegisterFile(ctx, f))

	files, total, err := s.ListFiles(ctx, "run-1", types.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, files, 1)

	data, err := s.ReadFileBytes(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	require.NoError(t, s.DeleteFile(ctx, f.ID))
	_, err = s.GetFile(ctx, f.ID)
	require.Error(t, err)
}

func TestUpdateSettings_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, settings.Version)

	settings.DefaultModel = "new-model"
	require.NoError(t, s.UpdateSettings(ctx, settings))

	// Stale version should now conflict.
	stale := &types.Settings{DefaultModel: "stale-model", Version: settings.Version}
	err = s.UpdateSettings(ctx, stale)
	require.Error(t, err)
	require.Equal(t, types.ErrConflict, types.AsError(err).Code)
}

func TestRunLifecycle_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &types.Run{ID: uuid.NewString(), TaskDescription: "t", Status: types.RunPending, StartedAt: time.Now()}
	require.NoError(t, s.CreateRun(ctx, run))
	_, err := s.AppendStep(ctx, &types.RunStep{ID: uuid.NewString(), RunID: run.ID, ToolName: "navigate", Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.AppendLog(ctx, &types.RunLog{ID: uuid.NewString(), RunID: run.ID, Level: types.LogInfo, Message: "m", Timestamp: time.Now()}))

	require.NoError(t, s.DeleteRun(ctx, run.ID))

	_, err = s.GetRun(ctx, run.ID)
	require.Error(t, err)
	steps, err := s.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Empty(t, steps)
}
