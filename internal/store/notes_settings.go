package store

import (
	"context"
	"errors"

	"github.com/BaSui01/tasker/types"
	"gorm.io/gorm"
)

// SaveNote upserts a keyed note for a run. Notes are the agent's explicit,
// non-compacted memory (spec §9 "History growth").
func (s *Store) SaveNote(ctx context.Context, note *types.Note) error {
	l := s.lockFor(note.RunID)
	l.Lock()
	defer l.Unlock()

	var existing noteRow
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND key = ?", note.RunID, note.Key).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := &noteRow{ID: note.ID, RunID: note.RunID, Key: note.Key, Value: note.Value, CreatedAt: note.CreatedAt}
		return wrapStoreErr(s.db.WithContext(ctx).Create(row).Error)
	case err != nil:
		return wrapStoreErr(err)
	default:
		existing.Value = note.Value
		return wrapStoreErr(s.db.WithContext(ctx).Save(&existing).Error)
	}
}

// RecallNotes returns every note saved for a run, in creation order.
func (s *Store) RecallNotes(ctx context.Context, runID string) ([]*types.Note, error) {
	var rows []noteRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	out := make([]*types.Note, len(rows))
	for i := range rows {
		out[i] = &types.Note{ID: rows[i].ID, RunID: rows[i].RunID, Key: rows[i].Key, Value: rows[i].Value, CreatedAt: rows[i].CreatedAt}
	}
	return out, nil
}

// GetSettings returns the singleton settings row.
func (s *Store) GetSettings(ctx context.Context) (*types.Settings, error) {
	var row settingsRow
	if err := s.db.WithContext(ctx).First(&row, "id = 1").Error; err != nil {
		return nil, wrapStoreErr(err)
	}
	return &types.Settings{
		DefaultProvider: row.DefaultProvider,
		DefaultModel:    row.DefaultModel,
		DefaultHeadless: row.DefaultHeadless,
		ViewportWidth:   row.ViewportWidth,
		ViewportHeight:  row.ViewportHeight,
		Version:         row.Version,
	}, nil
}

// UpdateSettings applies an optimistic-locked update: the caller's Version
// must match the stored version, or Conflict is returned (spec §4.A).
func (s *Store) UpdateSettings(ctx context.Context, next *types.Settings) error {
	tx := s.db.WithContext(ctx).Model(&settingsRow{}).
		Where("id = 1 AND version = ?", next.Version).
		Updates(map[string]any{
			"default_provider": next.DefaultProvider,
			"default_model":    next.DefaultModel,
			"default_headless": next.DefaultHeadless,
			"viewport_width":   next.ViewportWidth,
			"viewport_height":  next.ViewportHeight,
			"version":          next.Version + 1,
		})
	if tx.Error != nil {
		return wrapStoreErr(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return types.NewError(types.ErrConflict, "settings version mismatch")
	}
	return nil
}
