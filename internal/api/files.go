package api

import (
	"encoding/base64"
	"net/http"

	"github.com/BaSui01/tasker/types"
)

// listFiles handles GET /files?limit&offset across every run, per spec's
// "runID == '' means every file" ListFiles convention.
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := atoiDefault(q.Get("limit"), 20)
	offset := atoiDefault(q.Get("offset"), 0)
	page := types.Page{PerPage: limit, Page: offset/max1(limit) + 1}

	files, total, err := s.store.ListFiles(r.Context(), "", page)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{"files": files, "total": total})
}

// getFile handles GET /files/{id}, inlining the blob as base64.
func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	data, err := s.store.ReadFileBytes(r.Context(), id)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{
		"id":            meta.ID,
		"run_id":        meta.RunID,
		"workflow_id":   meta.WorkflowID,
		"file_name":     meta.FileName,
		"file_path":     meta.FilePath,
		"mime_type":     meta.MimeType,
		"file_size":     meta.FileSize,
		"created_at":    meta.CreatedAt,
		"content_base64": base64.StdEncoding.EncodeToString(data),
	})
}

// deleteFile handles DELETE /files/{id}.
func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteFile(r.Context(), id); err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{"ok": true})
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
