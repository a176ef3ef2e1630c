package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/vnykmshr/datacache-go/pkg/datacache"
	"github.com/vnykmshr/datacache-go/pkg/roster"
)

// server maps session HTTP calls onto the registry and the roster
type server struct {
	reg    *datacache.Registry
	roster *roster.Static
	logger *zap.Logger
}

// joinResponse lists the caches that admitted the entity
type joinResponse struct {
	Entity int64                     `json:"entity"`
	Caches map[string]map[string]any `json:"caches"`
}

// routes serves the session endpoints and metrics; everything else falls
// through to the registry handler
func (s *server) routes(metricsPath string, metricsHandler http.Handler) http.Handler {
	router := httprouter.New()
	router.POST("/sessions/:id", s.join)
	router.DELETE("/sessions/:id", s.leave)
	if metricsHandler != nil {
		router.Handler(http.MethodGet, metricsPath, metricsHandler)
	}
	router.NotFound = s.reg.Handler()
	router.HandleMethodNotAllowed = false
	return router
}

// join admits the entity into every cache. A session held elsewhere rolls
// back the caches already loaded and answers 409.
func (s *server) join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseID(w, ps)
	if !ok {
		return
	}

	s.roster.Join(id)
	resp := joinResponse{Entity: id, Caches: make(map[string]map[string]any)}
	for _, c := range s.reg.Caches() {
		data, err := c.Load(r.Context(), id, nil)
		switch {
		case err == nil:
			resp.Caches[c.Name()] = data
		case errors.Is(err, datacache.ErrAlreadyLoaded):
			data, _ = c.Get(id)
			resp.Caches[c.Name()] = data
		case errors.Is(err, datacache.ErrSessionLocked):
			s.rollback(r, id)
			http.Error(w, "Session active on another server", http.StatusConflict)
			return
		case errors.Is(err, datacache.ErrVersionConflict):
			s.rollback(r, id)
			http.Error(w, "Record changed during join, retry", http.StatusConflict)
			return
		case errors.Is(err, datacache.ErrDraining):
			s.roster.Leave(id)
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		default:
			s.logger.Error("Load failed", zap.String("cache", c.Name()), zap.Int64("entity", id), zap.Error(err))
			s.rollback(r, id)
			http.Error(w, "Load failed", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// leave releases the entity from every cache
func (s *server) leave(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseID(w, ps)
	if !ok {
		return
	}

	s.roster.Leave(id)
	failed := false
	for _, c := range s.reg.Caches() {
		err := c.Save(r.Context(), id)
		if err != nil && !errors.Is(err, datacache.ErrNotLoaded) {
			s.logger.Error("Release failed", zap.String("cache", c.Name()), zap.Int64("entity", id), zap.Error(err))
			failed = true
		}
	}
	if failed {
		http.Error(w, "Release failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) rollback(r *http.Request, id int64) {
	s.roster.Leave(id)
	for _, c := range s.reg.Caches() {
		if err := c.Save(r.Context(), id); err != nil && !errors.Is(err, datacache.ErrNotLoaded) {
			s.logger.Warn("Rollback release failed", zap.String("cache", c.Name()), zap.Int64("entity", id), zap.Error(err))
		}
	}
}

func parseID(w http.ResponseWriter, ps httprouter.Params) (int64, bool) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid entity id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
