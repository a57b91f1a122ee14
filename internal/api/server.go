package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/tasker/config"
	"github.com/BaSui01/tasker/internal/browser"
	"github.com/BaSui01/tasker/internal/llmclient"
	"github.com/BaSui01/tasker/internal/recorder"
	"github.com/BaSui01/tasker/internal/server"
	"github.com/BaSui01/tasker/internal/session"
	"github.com/BaSui01/tasker/internal/store"
)

// Server wires the Store, Session Manager, WebSocket hub and LLM client
// factory into the HTTP/WebSocket surface spec §4.G and §6 describe. One
// Server serves the whole process's endpoint table.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	hub      *hub
	logger   *zap.Logger
	llmKeys  llmclient.ProviderKeys

	healthChecks []healthCheck

	recMu      sync.Mutex
	recordings map[string]*recorder.Engine

	httpMgr    *server.Manager
	metricsMgr *server.Manager
}

// NewServer constructs a Server. Callers start it with Start and block on
// WaitForShutdown (or drive their own select loop off Errors()).
func NewServer(cfg *config.Config, st *store.Store, sessions *session.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		hub:      newHub(logger),
		logger:   logger.With(zap.String("component", "api_server")),
		llmKeys: llmclient.ProviderKeys{
			AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
			OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
			GoogleAPIKey:    cfg.LLM.GoogleAPIKey,
		},
		recordings: make(map[string]*recorder.Engine),
	}
	s.healthChecks = []healthCheck{storePingCheck{ping: st.Ping}}
	return s
}

func (s *Server) newID() string {
	return uuid.NewString()
}

func (s *Server) newDriver(cfg browser.Config) (browser.Driver, error) {
	return browser.NewChromeDPDriver(cfg, s.logger)
}

// routes assembles the full endpoint table behind the middleware chain.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /ws", s.hub.serveWS)

	mux.HandleFunc("POST /recordings", s.createRecording)
	mux.HandleFunc("GET /recordings/{id}", s.getRecording)
	mux.HandleFunc("POST /recordings/{id}/stop", s.stopRecording)
	mux.HandleFunc("POST /recordings/{id}/cancel", s.cancelRecording)

	mux.HandleFunc("POST /runs", s.createRun)
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("GET /runs/{id}", s.getRun)
	mux.HandleFunc("GET /runs/{id}/steps", s.listRunSteps)
	mux.HandleFunc("GET /runs/{id}/logs", s.listRunLogs)
	mux.HandleFunc("GET /runs/{id}/files", s.listRunFiles)
	mux.HandleFunc("POST /runs/{id}/cancel", s.cancelRun)
	mux.HandleFunc("DELETE /runs/{id}", s.deleteRun)

	mux.HandleFunc("GET /files", s.listFiles)
	mux.HandleFunc("GET /files/{id}", s.getFile)
	mux.HandleFunc("DELETE /files/{id}", s.deleteFile)

	return chain(mux,
		recovery(s.logger),
		requestID(),
		securityHeaders(),
		requestLogger(s.logger),
	)
}

// Start binds both the API listener and (if enabled) the metrics listener,
// synchronously, so a port conflict is reported before the process claims
// to be up (spec §6 exit code 1: "port in use, cannot write store").
func (s *Server) Start() error {
	s.httpMgr = server.NewManager(s.routes(), server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpMgr.Start(); err != nil {
		return fmt.Errorf("start API listener: %w", err)
	}

	if s.cfg.Telemetry.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsMgr = server.NewManager(metricsMux, server.Config{
			Addr:            s.cfg.Telemetry.MetricsAddr,
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.WriteTimeout,
			IdleTimeout:     s.cfg.Server.IdleTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
		if err := s.metricsMgr.Start(); err != nil {
			_ = s.httpMgr.Shutdown(context.Background())
			return fmt.Errorf("start metrics listener: %w", err)
		}
	}

	return nil
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.metricsMgr != nil {
		if err := s.metricsMgr.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.httpMgr != nil {
		if err := s.httpMgr.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WaitForShutdown blocks until a shutdown signal or a listener error.
func (s *Server) WaitForShutdown() {
	s.httpMgr.WaitForShutdown()
	if s.metricsMgr != nil {
		_ = s.metricsMgr.Shutdown(context.Background())
	}
}
