package api

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/tasker/internal/browser"
	"github.com/BaSui01/tasker/internal/llmclient"
	"github.com/BaSui01/tasker/internal/recorder"
	"github.com/BaSui01/tasker/internal/session"
	"github.com/BaSui01/tasker/types"
)

// recordingLaunchTimeout bounds how long createRecording waits for Chromium
// to come up before giving up and reporting a BrowserError.
const recordingLaunchTimeout = 30 * time.Second

type createRecordingRequest struct {
	Headless       *bool `json:"headless,omitempty"`
	ViewportWidth  int   `json:"viewport_width,omitempty"`
	ViewportHeight int   `json:"viewport_height,omitempty"`
}

// createRecording handles POST /recordings. Chromium launch happens
// synchronously (recorder.Start blocks until the capture script is
// installed) so the response's status already reflects "recording" rather
// than a transient "initializing" the caller would have to poll past.
func (s *Server) createRecording(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	if !decodeJSONOptional(w, r, &req, s.logger) {
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

	describer, err := s.newDescriber()
	if err != nil {
		writeError(w, err, s.logger)
		return
	}

	launchCtx, cancel := context.WithTimeout(context.Background(), recordingLaunchTimeout)
	defer cancel()
	engine, err := recorder.Start(launchCtx, cfg, describer, s.logger)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}

	id := s.newID()
	engine.SetOnEvent(func(ev types.ActionEvent) {
		s.hub.broadcast(Event{Type: EventRecordingStep, SessionID: id, Payload: ev})
	})

	s.putRecording(id, engine)
	s.sessions.Start(id, session.KindRecording, func(ctx context.Context) error {
		<-ctx.Done()
		engine.Cancel()
		return ctx.Err()
	}, engine.Cancel)

	status, _ := engine.Status()
	writeCreated(w, map[string]any{"session_id": id, "status": status})
}

// getRecording handles GET /recordings/{id}.
func (s *Server) getRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	engine, ok := s.getRecordingEngine(id)
	if !ok {
		writeError(w, types.NewError(types.ErrNotFound, "recording not found"), s.logger)
		return
	}
	status, count := engine.Status()
	resp := map[string]any{"session_id": id, "status": status, "step_count": count}
	if status == types.RecordingError {
		resp["error"] = "recording browser terminated unexpectedly"
	}
	writeSuccess(w, resp)
}

// stopRecording handles POST /recordings/{id}/stop.
func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	engine, ok := s.getRecordingEngine(id)
	if !ok {
		writeError(w, types.NewError(types.ErrNotFound, "recording not found"), s.logger)
		return
	}

	name, description, err := engine.Stop(r.Context())
	s.dropRecording(id)
	_ = s.sessions.Cancel(id)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeSuccess(w, map[string]any{"name": name, "task_description": description})
}

// cancelRecording handles POST /recordings/{id}/cancel.
func (s *Server) cancelRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	engine, ok := s.getRecordingEngine(id)
	if !ok {
		writeError(w, types.NewError(types.ErrNotFound, "recording not found"), s.logger)
		return
	}
	engine.Cancel()
	s.dropRecording(id)
	_ = s.sessions.Cancel(id)
	writeSuccess(w, map[string]any{"ok": true})
}

func (s *Server) defaultBrowserConfig() browser.Config {
	cfg := browser.DefaultConfig()
	cfg.Headless = s.cfg.Browser.Headless
	if s.cfg.Browser.ViewportWidth > 0 {
		cfg.ViewportWidth = s.cfg.Browser.ViewportWidth
	}
	if s.cfg.Browser.ViewportHeight > 0 {
		cfg.ViewportHeight = s.cfg.Browser.ViewportHeight
	}
	if s.cfg.Browser.DefaultActionTimeout > 0 {
		cfg.ActionTimeout = s.cfg.Browser.DefaultActionTimeout
	}
	if s.cfg.Browser.ImplicitWaitTimeout > 0 {
		cfg.ImplicitWait = s.cfg.Browser.ImplicitWaitTimeout
	}
	cfg.ChromiumPath = s.cfg.Browser.ChromiumPath
	return cfg
}

// newDescriber builds a recorder.Describer from the sidecar's default LLM
// provider, the same one new runs use unless overridden per-request.
func (s *Server) newDescriber() (*llmclient.Describer, error) {
	client, err := llmclient.NewClient(s.cfg.LLM.DefaultProvider, s.llmKeys, s.logger)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "no usable LLM provider configured").WithCause(err)
	}
	return llmclient.NewDescriber(client, s.cfg.LLM.DefaultModel), nil
}

func (s *Server) putRecording(id string, e *recorder.Engine) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	s.recordings[id] = e
}

func (s *Server) getRecordingEngine(id string) (*recorder.Engine, bool) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	e, ok := s.recordings[id]
	return e, ok
}

func (s *Server) dropRecording(id string) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	delete(s.recordings, id)
}
