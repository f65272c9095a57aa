// Package server exposes the read-only status API over the queue: health,
// the aggregate queue view, and experiment logs, including live log
// streams over Server-Sent Events.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/replay/internal/queue"
	"github.com/me/replay/internal/worker"
	"github.com/me/replay/pkg/model"
)

// Server is the replay status API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	rt        *queue.Runtime
	queue     queue.Queue
	startTime time.Time
}

// New creates a server over rt's broker queue with all routes registered.
func New(rt *queue.Runtime, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		rt:        rt,
		queue:     queue.NewBrokerQueue(rt),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(instrument(s.logger))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", s.handleQueueStatus)
		r.Get("/experiments/{rev}/logs", s.handleLogs)
		r.Get("/sse/experiments/{rev}/logs", s.handleSSELogs)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Status assembles the aggregate point-in-time queue view.
func (s *Server) Status(r *http.Request) (*model.QueueStatus, error) {
	ctx := r.Context()
	st := &model.QueueStatus{
		Queued: []model.Entry{},
		Active: []model.Entry{},
		Done:   []model.DoneEntry{},
	}
	for e, err := range s.queue.IterQueued(ctx) {
		if err != nil {
			return nil, err
		}
		st.Queued = append(st.Queued, e)
	}
	for e, err := range s.queue.IterActive(ctx) {
		if err != nil {
			return nil, err
		}
		st.Active = append(st.Active, e)
	}
	for dr, err := range s.queue.IterDone(ctx) {
		if err != nil {
			return nil, err
		}
		st.Done = append(st.Done, model.DoneEntry{Entry: dr.Entry, Result: dr.Result})
	}
	st.Worker = worker.Status(s.rt)
	return st, nil
}
