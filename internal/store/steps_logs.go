package store

import (
	"context"

	"github.com/BaSui01/tasker/types"
)

// AppendStep appends the next step for a run. Step numbers are assigned by
// the store itself (max+1 under the run's write lock) so callers never race
// on step_number and the "strictly increasing, no gaps" invariant holds
// even under concurrent tool dispatch within a single run (which the agent
// loop never does, but the store doesn't rely on that).
func (s *Store) AppendStep(ctx context.Context, step *types.RunStep) (*types.RunStep, error) {
	l := s.lockFor(step.RunID)
	l.Lock()
	defer l.Unlock()

	var maxN int
	err := s.db.WithContext(ctx).Model(&runStepRow{}).
		Where("run_id = ?", step.RunID).
		Select("COALESCE(MAX(step_number), 0)").
		Scan(&maxN).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	step.StepNumber = maxN + 1
	row := stepToRow(step)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, wrapStoreErr(err)
	}
	return step, nil
}

// ListSteps returns every step for run_id in step_number order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*types.RunStep, error) {
	var rows []runStepRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("step_number ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	out := make([]*types.RunStep, len(rows))
	for i := range rows {
		out[i] = rowToStep(&rows[i])
	}
	return out, nil
}

// AppendLog appends a log line for a run, ordered by timestamp with Seq as
// an insertion-order tiebreak (spec §5: "ties broken by insertion order").
func (s *Store) AppendLog(ctx context.Context, log *types.RunLog) error {
	l := s.lockFor(log.RunID)
	l.Lock()
	defer l.Unlock()

	log.Seq = s.nextLogSeq()
	row := &runLogRow{
		ID:        log.ID,
		RunID:     log.RunID,
		Level:     string(log.Level),
		Message:   log.Message,
		Timestamp: log.Timestamp,
		Seq:       log.Seq,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// ListLogs returns every log line for run_id ordered by timestamp, seq.
func (s *Store) ListLogs(ctx context.Context, runID string) ([]*types.RunLog, error) {
	var rows []runLogRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("timestamp ASC, seq ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	out := make([]*types.RunLog, len(rows))
	for i := range rows {
		out[i] = &types.RunLog{
			ID:        rows[i].ID,
			RunID:     rows[i].RunID,
			Level:     types.LogLevel(rows[i].Level),
			Message:   rows[i].Message,
			Timestamp: rows[i].Timestamp,
			Seq:       rows[i].Seq,
		}
	}
	return out, nil
}

func stepToRow(s *types.RunStep) *runStepRow {
	return &runStepRow{
		ID:         s.ID,
		RunID:      s.RunID,
		StepNumber: s.StepNumber,
		ToolName:   s.ToolName,
		Params:     s.Params,
		Success:    s.Success,
		Result:     s.Result,
		Error:      s.Error,
		Screenshot: s.Screenshot,
		DurationMS: s.DurationMS,
		Timestamp:  s.Timestamp,
	}
}

func rowToStep(r *runStepRow) *types.RunStep {
	return &types.RunStep{
		ID:         r.ID,
		RunID:      r.RunID,
		StepNumber: r.StepNumber,
		ToolName:   r.ToolName,
		Params:     r.Params,
		Success:    r.Success,
		Result:     r.Result,
		Error:      r.Error,
		Screenshot: r.Screenshot,
		DurationMS: r.DurationMS,
		Timestamp:  r.Timestamp,
	}
}
