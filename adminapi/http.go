package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/socialbot/registry"
	"github.com/hazyhaar/socialbot/supervisor"
)

// Routes registers the HTTP endpoints on r.
//
//	GET  /bots                      status of every account
//	GET  /bots/{username}           status of one bot
//	POST /bots/{username}/start
//	POST /bots/{username}/stop
//	GET  /bots/{username}/logs      ?lines=N
//	GET  /bots/{username}/events    ?limit=N
func (s *Service) Routes(r chi.Router) {
	r.Get("/bots", s.handleList)
	r.Route("/bots/{username}", func(r chi.Router) {
		r.Get("/", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Get("/logs", s.handleLogs)
		r.Get("/events", s.handleEvents)
	})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.ListStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": list})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.GetStatus(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "username")
	if err := s.StartBot(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"username": user, "running": true})
}

func (s *Service) handleStop(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "username")
	if err := s.StopBot(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": user, "running": false})
}

func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "username")
	n, ok := intParam(r, "lines")
	if !ok {
		http.Error(w, "lines must be an integer", http.StatusBadRequest)
		return
	}
	lines, err := s.Logs(user, n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": user, "lines": lines})
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "username")
	limit, ok := intParam(r, "limit")
	if !ok {
		http.Error(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	events, err := s.Events(r.Context(), user, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": user, "events": events})
}

func intParam(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrUnknownAccount):
		status = http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, supervisor.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrNoEvents):
		status = http.StatusNotImplemented
	default:
		s.logger.Error("adminapi: request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
