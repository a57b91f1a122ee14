package store

import (
	"context"
	"errors"
	"os"

	"github.com/BaSui01/tasker/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterFile records a file that the write_file tool created on disk.
func (s *Store) RegisterFile(ctx context.Context, f *types.StoredFile) error {
	row := &storedFileRow{
		ID:         f.ID,
		RunID:      f.RunID,
		WorkflowID: f.WorkflowID,
		FileName:   f.FileName,
		FilePath:   f.FilePath,
		MimeType:   f.MimeType,
		FileSize:   f.FileSize,
		CreatedAt:  f.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// ListFiles returns files for a run (runID != "") or every file (runID ==
// "", paginated) per spec's /files and /runs/{id}/files endpoints.
func (s *Store) ListFiles(ctx context.Context, runID string, page types.Page) ([]*types.StoredFile, int64, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&storedFileRow{})
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreErr(err)
	}

	var rows []storedFileRow
	err := q.Order("created_at DESC").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}

	out := make([]*types.StoredFile, len(rows))
	for i := range rows {
		out[i] = &types.StoredFile{
			ID:         rows[i].ID,
			RunID:      rows[i].RunID,
			WorkflowID: rows[i].WorkflowID,
			FileName:   rows[i].FileName,
			FilePath:   rows[i].FilePath,
			MimeType:   rows[i].MimeType,
			FileSize:   rows[i].FileSize,
			CreatedAt:  rows[i].CreatedAt,
		}
	}
	return out, total, nil
}

// GetFile fetches file metadata by id.
func (s *Store) GetFile(ctx context.Context, id string) (*types.StoredFile, error) {
	var row storedFileRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "file not found").WithCause(err)
		}
		return nil, wrapStoreErr(err)
	}
	return &types.StoredFile{
		ID: row.ID, RunID: row.RunID, WorkflowID: row.WorkflowID,
		FileName: row.FileName, FilePath: row.FilePath, MimeType: row.MimeType,
		FileSize: row.FileSize, CreatedAt: row.CreatedAt,
	}, nil
}

// ReadFileBytes returns the on-disk content for a registered file.
func (s *Store) ReadFileBytes(ctx context.Context, id string) ([]byte, error) {
	meta, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(meta.FilePath)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "read file bytes failed").WithCause(err)
	}
	return data, nil
}

// DeleteFile removes both the row and the backing blob.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	meta, err := s.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&storedFileRow{}, "id = ?", id).Error; err != nil {
		return wrapStoreErr(err)
	}
	if err := os.Remove(meta.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove file blob", zap.Error(err))
	}
	return nil
}
