// Package api exposes the task registry over HTTP: REST routes for start,
// stop, inspect and list, and a WebSocket stream that accepts the same
// commands and pushes task events back to the client.
//
// Routes:
//
//	POST   /api/tasks       start a task
//	GET    /api/tasks       list task ids
//	GET    /api/tasks/{id}  task details
//	DELETE /api/tasks/{id}  stop a task
//	GET    /ws              command and event stream
//	GET    /health          liveness
//	GET    /metrics         Prometheus metrics
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/guido-cesarano/looprelay/pkg/events"
	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/registry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server holds the handler dependencies.
type Server struct {
	reg      *registry.Registry
	hub      *events.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP handlers for reg. hub may be nil, in which case
// WebSocket clients receive replies but no task events.
func NewServer(reg *registry.Registry, hub *events.Hub) *Server {
	return &Server{
		reg: reg,
		hub: hub,
		log: logger.With("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the chi router. An empty apiKey disables authentication.
func (s *Server) Router(apiKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(apiKey))

		r.Route("/api/tasks", func(r chi.Router) {
			r.Post("/", s.startTask)
			r.Get("/", s.listTasks)
			r.Get("/{id}", s.inspectTask)
			r.Delete("/{id}", s.stopTask)
		})
		r.Get("/ws", s.serveWS)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tasks":  s.reg.Len(),
	})
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	var cmd registry.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	cmd.Type = registry.CommandStart

	reply := s.reg.Dispatch(r.Context(), cmd)
	if reply.Type == registry.ReplyError {
		respondJSON(w, http.StatusBadRequest, reply)
		return
	}
	respondJSON(w, http.StatusCreated, reply)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tasks": s.reg.List()})
}

func (s *Server) inspectTask(w http.ResponseWriter, r *http.Request) {
	reply := s.reg.Dispatch(r.Context(), registry.Command{
		Type:   registry.CommandInspect,
		TaskID: chi.URLParam(r, "id"),
	})
	if reply.Type == registry.ReplyError {
		respondJSON(w, http.StatusNotFound, reply)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Stop(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, registry.ErrorReply(registry.CommandStop, registry.ReasonNotFound, "Task not found"))
			return
		}
		respondJSON(w, http.StatusInternalServerError, registry.ErrorReply(registry.CommandStop, registry.ReasonStopFailed, err.Error()))
		return
	}
	respondJSON(w, http.StatusOK, registry.Reply{Type: registry.ReplyTaskStopped, TaskID: id})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, registry.ErrorReply("", registry.ReasonInvalid, msg))
}
