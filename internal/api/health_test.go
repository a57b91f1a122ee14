package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string                    { return m.name }
func (m *mockHealthCheck) Check(ctx context.Context) error { return m.err }

func TestHealthz_AllChecksPass(t *testing.T) {
	s := &Server{
		logger: zap.NewNop(),
		healthChecks: []healthCheck{
			&mockHealthCheck{name: "store", err: nil},
		},
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.healthz(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status healthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "pass", status.Checks["store"].Status)
}

func TestHealthz_FailedCheckReturns503(t *testing.T) {
	s := &Server{
		logger: zap.NewNop(),
		healthChecks: []healthCheck{
			&mockHealthCheck{name: "store", err: errors.New("disk full")},
		},
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.healthz(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status healthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["store"].Status)
	assert.Equal(t, "disk full", status.Checks["store"].Message)
}

func TestHealthz_NoChecksRegistered(t *testing.T) {
	s := &Server{logger: zap.NewNop()}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.healthz(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
