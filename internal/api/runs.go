package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BaSui01/tasker/internal/agentloop"
	"github.com/BaSui01/tasker/internal/llmclient"
	"github.com/BaSui01/tasker/internal/session"
	"github.com/BaSui01/tasker/types"
)

type createRunRequest struct {
	WorkflowID         string `json:"workflow_id,omitempty"`
	TaskDescription    string `json:"task_description"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
	StopWhen           string `json:"stop_when,omitempty"`
	MaxSteps           int    `json:"max_steps,omitempty"`
	LLMProvider        string `json:"llm_provider"`
	LLMModel           string `json:"llm_model"`
	Headless           *bool  `json:"headless,omitempty"`
	ViewportWidth      int    `json:"viewport_width,omitempty"`
	ViewportHeight     int    `json:"viewport_height,omitempty"`
	Hints              string `json:"hints,omitempty"`
}

// createRun handles POST /runs: it persists the pending run synchronously,
// then hands it to the Session Manager so the response returns before the
// browser finishes launching.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decodeJSON(w, r, &req, s.logger) {
		return
	}
	if req.TaskDescription == "" {
		writeError(w, types.NewError(types.ErrInvalidInput, "task_description is required"), s.logger)
		return
	}

	provider := req.LLMProvider
	if provider == "" {
		provider = s.cfg.LLM.DefaultProvider
	}
	model := req.LLMModel
	if model == "" {
		model = s.cfg.LLM.DefaultModel
	}

	run := &types.Run{
		ID:                 s.newID(),
		WorkflowID:         req.WorkflowID,
		TaskDescription:    req.TaskDescription,
		CustomInstructions: req.CustomInstructions,
		StopWhen:           req.StopWhen,
		MaxSteps:           req.MaxSteps,
		LLMProvider:        provider,
		LLMModel:           model,
		Status:             types.RunPending,
		StartedAt:          time.Now(),
	}
	if req.Hints != "" {
		run.Metadata = map[string]string{"hints": req.Hints}
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		writeError(w, err, s.logger)
		return
	}

	cfg := s.defaultBrowserConfig()
	if req.Headless != nil {
		cfg.Headless = *req.Headless
	}
	if req.ViewportWidth > 0 {
		cfg.ViewportWidth = req.ViewportWidth
	}
	if req.ViewportHeight > 0 {
		cfg.ViewportHeight = req.ViewportHeight
	}
	cfg.WorkingDir = filepath.Join(s.cfg.Database.DataDir, "files", run.ID)

	llmClient, err := llmclient.NewClient(provider, s.llmKeys, s.logger)
	if err != nil {
		_ = s.store.UpdateRunStatus(r.Context(), run.ID, types.RunFailed, err.Error(), "", timePtr(time.Now()))
		writeError(w, types.NewError(types.ErrInvalidInput, "no usable LLM provider configured").WithCause(err), s.logger)
		return
	}
	tokenizer := llmclient.NewTokenizer(provider, model)

	driver, err := s.newDriver(cfg)
	if err != nil {
		_ = s.store.UpdateRunStatus(r.Context(), run.ID, types.RunFailed, err.Error(), "", timePtr(time.Now()))
		writeError(w, err, s.logger)
		return
	}

	runner := agentloop.NewRunner(driver, s.store, llmClient, tokenizer, s.logger)
	runner.SetOnStep(func(step types.RunStep) {
		s.hub.broadcast(Event{Type: EventReplayStep, SessionID: run.ID, Payload: step})
	})

	s.sessions.Start(run.ID, session.KindRun, func(ctx context.Context) error {
		defer driver.Close()
		err := runner.Execute(ctx, run)
		final, statusErr := s.store.GetRun(context.Background(), run.ID)
		if statusErr == nil {
			s.hub.broadcast(Event{Type: EventRunStatus, SessionID: run.ID, Payload: map[string]any{
				"status": final.Status,
				"error":  final.Error,
			}})
			s.hub.broadcast(Event{Type: EventReplayComplete, SessionID: run.ID, Payload: map[string]any{
				"status": final.Status,
			}})
		}
		return err
	}, func() { _ = driver.Close() })

	writeCreated(w, map[string]any{"run_id": run.ID, "status": run.Status})
}

// listRuns handles GET /runs?page&per_page&status&workflow_id.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := types.Page{
		Page:    atoiDefault(q.Get("page"), 1),
		PerPage: atoiDefault(q.Get("per_page"), 20),
	}
	filter := types.RunFilter{
		Status:     types.RunStatus(q.Get("status")),
		WorkflowID: q.Get("workflow_id"),
	}

	runs, total, err := s.store.ListRuns(r.Context(), filter, page)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	norm := page.Normalize()
	writeSuccess(w, map[string]any{
		"runs":     runs,
		"total":    total,
		"page":     norm.Page,
		"per_page": norm.PerPage,
	})
}

// getRun handles GET /runs/{id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, run)
}

// listRunSteps handles GET /runs/{id}/steps.
func (s *Server) listRunSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.store.ListSteps(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, steps)
}

// listRunLogs handles GET /runs/{id}/logs.
func (s *Server) listRunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, logs)
}

// listRunFiles handles GET /runs/{id}/files.
func (s *Server) listRunFiles(w http.ResponseWriter, r *http.Request) {
	files, total, err := s.store.ListFiles(r.Context(), r.PathValue("id"), types.Page{Page: 1, PerPage: 200})
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{"files": files, "total": total})
}

// cancelRun handles POST /runs/{id}/cancel.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Cancel(id); err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{"run_id": id, "status": types.RunCancelled})
}

// deleteRun handles DELETE /runs/{id}.
func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{"run_id": id, "deleted": true})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func timePtr(t time.Time) *time.Time { return &t }
