package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"traceapi/internal/logging"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

// StatusFor maps a service error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNormalization):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorBody(w, r, err, ErrorResponse{Error: err.Error()})
}

// writeGenerationError adds the record's state to the error body so callers
// can tell a running generation from a failed one.
func (s *Server) writeGenerationError(w http.ResponseWriter, r *http.Request, err error, gen *store.Generation) {
	body := ErrorResponse{Error: err.Error()}
	if gen != nil {
		progress := gen.Progress
		body.State = string(gen.State)
		body.Progress = &progress
	}
	s.writeErrorBody(w, r, err, body)
}

func (s *Server) writeErrorBody(w http.ResponseWriter, r *http.Request, err error, body ErrorResponse) {
	status := StatusFor(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see the error detail and daemon logs"),
		)
		// Internal detail stays in the log.
		if errors.Is(err, services.ErrStorage) {
			body.Error = services.ErrStorage.Error()
		}
	} else {
		logger.Debug("request rejected",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
