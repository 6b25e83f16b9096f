package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/focusguard/internal/backend"
	"github.com/goodtune/focusguard/internal/block"
	"github.com/goodtune/focusguard/internal/gate"
	"github.com/goodtune/focusguard/internal/site"
)

// Response is the envelope of every command reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, Response{Success: false, Error: message})
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, site.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, site.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, gate.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, block.ErrNoUnlock):
		return http.StatusConflict
	case errors.Is(err, backend.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, backend.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError replies with the mapped status. Storage and unexpected
// errors are logged and their detail withheld.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("op", op).Msg("Command failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
