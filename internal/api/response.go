// Package api is the API Surface (spec component 4.G): HTTP endpoints for
// recordings, runs and files, plus the single WebSocket endpoint that
// multiplexes recording/run events.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// Response is the envelope every handler writes, success or failure.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo is the JSON shape of a failed response's error field.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeJSON writes status and data as a JSON body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a 200 envelope wrapping data.
func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// writeCreated writes a 201 envelope wrapping data.
func writeCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// writeError maps a *types.Error to its HTTP status and writes the envelope.
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	tErr := types.AsError(err)
	if tErr == nil {
		tErr = types.NewError(types.ErrStoreError, "internal error").WithCause(err)
	}
	if logger != nil {
		logger.Error("request failed", zap.String("code", string(tErr.Code)), zap.Error(tErr))
	}
	writeJSON(w, tErr.HTTPStatus(), Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(tErr.Code),
			Message:   tErr.Message,
			Retryable: tErr.Retryable(),
		},
		Timestamp: time.Now(),
	})
}

// decodeJSON decodes r's body into dst, writing an InvalidInput response
// and returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if r.Body == nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "request body is empty"), logger)
		return false
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "invalid JSON body").WithCause(err), logger)
		return false
	}
	return true
}

// decodeJSONOptional is decodeJSON for endpoints whose body is entirely
// optional fields: an empty body leaves dst at its zero value instead of
// failing.
func decodeJSONOptional(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, types.NewError(types.ErrInvalidInput, "invalid JSON body").WithCause(err), logger)
		return false
	}
	return true
}
