package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/tasker/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateRun persists a new pending run.
func (s *Store) CreateRun(ctx context.Context, run *types.Run) error {
	row, err := runToRow(run)
	if err != nil {
		return wrapStoreErr(err)
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var row runRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "run not found").WithCause(err)
		}
		return nil, wrapStoreErr(err)
	}
	return rowToRun(&row)
}

// UpdateRunStatus transitions a run's status, optionally setting error,
// result and completed_at. Only the Agent Run Loop calls this; it is the
// sole writer of run.status outside CreateRun.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status types.RunStatus, errMsg, result string, completedAt *time.Time) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	updates := map[string]any{"status": string(status)}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if result != "" {
		updates["result"] = result
	}
	if completedAt != nil {
		updates["completed_at"] = completedAt
	}

	tx := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return wrapStoreErr(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "run not found")
	}
	return nil
}

// ListRuns returns a page of runs matching filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter types.RunFilter, page types.Page) ([]*types.Run, int64, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&runRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.WorkflowID != "" {
		q = q.Where("workflow_id = ?", filter.WorkflowID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreErr(err)
	}

	var rows []runRow
	err := q.Order("started_at DESC").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}

	runs := make([]*types.Run, 0, len(rows))
	for i := range rows {
		r, err := rowToRun(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	return runs, total, nil
}

// DeleteRun removes a run and cascades its steps and logs. Files are
// detached (workflow_id retained, run_id left dangling) rather than
// deleted, per spec §4.A.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&runRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&runStepRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&runLogRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&noteRow{}).Error; err != nil {
			return err
		}
		return nil
	})
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if ae := types.AsError(err); ae != nil {
		return ae
	}
	return types.NewError(types.ErrStoreError, "store operation failed").WithCause(err)
}

func runToRow(r *types.Run) (*runRow, error) {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &runRow{
		ID:                 r.ID,
		WorkflowID:         r.WorkflowID,
		TaskDescription:    r.TaskDescription,
		CustomInstructions: r.CustomInstructions,
		StopWhen:           r.StopWhen,
		MaxSteps:           r.MaxSteps,
		LLMProvider:        r.LLMProvider,
		LLMModel:           r.LLMModel,
		Status:             string(r.Status),
		Error:              r.Error,
		Result:             r.Result,
		Metadata:           string(meta),
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
	}, nil
}

func rowToRun(row *runRow) (*types.Run, error) {
	var meta map[string]string
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &types.Run{
		ID:                 row.ID,
		WorkflowID:         row.WorkflowID,
		TaskDescription:    row.TaskDescription,
		CustomInstructions: row.CustomInstructions,
		StopWhen:           row.StopWhen,
		MaxSteps:           row.MaxSteps,
		LLMProvider:        row.LLMProvider,
		LLMModel:           row.LLMModel,
		Status:             types.RunStatus(row.Status),
		Error:              row.Error,
		Result:             row.Result,
		Metadata:           meta,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
	}, nil
}

// debugLog is a tiny helper kept for parity with the teacher's habit of
// logging store-level errors at debug, not warn, to avoid noisy retries.
func (s *Store) debugLog(op string, err error) {
	if err != nil {
		s.logger.Debug("store operation failed", zap.String("op", op), zap.Error(err))
	}
}
