// Package web serves the keep-alive endpoint and a small read-only API
// for checking on the bot from a browser.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ksaito/noelbot/agent"
	"github.com/ksaito/noelbot/logstore"
)

type Server struct {
	personaName string
	version     string
	router      *agent.Router
	logs        *logstore.Store
	httpServer  *http.Server
}

// New builds the server. logs may be nil, in which case /api/logs reports 404.
func New(addr, personaName, version string, router *agent.Router, logs *logstore.Store) *Server {
	s := &Server{
		personaName: personaName,
		version:     version,
		router:      router,
		logs:        logs,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleRoot answers uptime monitors with a plain banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s %s is awake.\n", s.personaName, s.version)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	channels := s.router.Status()
	if channels == nil {
		channels = []agent.ChannelStatus{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"persona":  s.personaName,
		"version":  s.version,
		"channels": channels,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		http.Error(w, "log store not configured", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := s.logs.List(r.Context(), q.Get("level"), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []logstore.LogRow{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total": total,
		"logs":  rows,
	})
}
