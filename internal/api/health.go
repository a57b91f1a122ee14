package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// healthCheck is one liveness dependency the sidecar can verify.
type healthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// healthStatus is the JSON shape of /healthz.
type healthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// storePingCheck verifies the Store's underlying connection is alive.
type storePingCheck struct {
	ping func(ctx context.Context) error
}

func (c storePingCheck) Name() string                    { return "store" }
func (c storePingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// healthz handles GET /healthz: a liveness probe that also verifies the
// Store connection, since a sidecar whose database is unreachable cannot
// usefully serve any of the documented endpoints.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]checkResult),
	}

	// Checks are independent dependencies; run them concurrently and collect
	// every result rather than letting one slow check serialize the rest.
	var mu sync.Mutex
	allHealthy := true
	g, gctx := errgroup.WithContext(ctx)
	for _, check := range s.healthChecks {
		check := check
		g.Go(func() error {
			start := time.Now()
			err := check.Check(gctx)
			latency := time.Since(start)

			result := checkResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				s.logger.Warn("health check failed", zap.String("check", check.Name()), zap.Error(err))
			}

			mu.Lock()
			status.Checks[check.Name()] = result
			if err != nil {
				allHealthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if !allHealthy {
		status.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
