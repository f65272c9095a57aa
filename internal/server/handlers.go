package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/replay/pkg/model"
)

// handleHealth reports liveness and uptime.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleQueueStatus returns the aggregate queue view.
// GET /api/v1/queue
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	status, err := s.Status(r)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, status)
}

// handleLogs returns the recorded output of an experiment as plain text.
// GET /api/v1/experiments/{rev}/logs
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	rev := chi.URLParam(r, "rev")
	reqID := RequestIDFromContext(r.Context())

	var buf bytes.Buffer
	if err := s.queue.Logs(r.Context(), rev, &buf, false); err != nil {
		s.respondLogsError(w, reqID, rev, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) respondLogsError(w http.ResponseWriter, reqID, rev string, err error) {
	var (
		unresolved *model.UnresolvedNamesError
		notStarted *model.NotStartedError
		missing    *model.MissingLogsError
	)
	switch {
	case errors.As(err, &unresolved):
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("experiment", rev))
	case errors.As(err, &notStarted):
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: err.Error(),
		})
	case errors.As(err, &missing):
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("logs for experiment", rev))
	default:
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
	}
}

// handleSSELogs streams an experiment's live output via Server-Sent Events.
// GET /api/v1/sse/experiments/{rev}/logs
func (s *Server) handleSSELogs(w http.ResponseWriter, r *http.Request) {
	rev := chi.URLParam(r, "rev")
	reqID := RequestIDFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError("SSE not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseLogWriter{w: w, f: flusher}
	if err := s.queue.Logs(r.Context(), rev, sw, true); err != nil {
		s.logger.Debug("sse log stream ended", "rev", rev, "error", err)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}
	fmt.Fprint(w, "event: end\ndata: \n\n")
	flusher.Flush()
}

// sseLogWriter frames raw log chunks as SSE data events.
type sseLogWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *sseLogWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return 0, err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return 0, err
	}
	s.f.Flush()
	return len(p), nil
}
