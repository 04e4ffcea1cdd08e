// Package server exposes the REST/WebSocket surface over the on-disk
// stores.
//
// Handlers open the stores they need per request and close them before
// returning; the only process-wide state is the autopilot, the
// broadcaster, and its client set.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/autopilot"
	"github.com/legio-dev/legio/internal/broadcast"
	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/workspace"
)

// Server is the long-running HTTP process.
type Server struct {
	Cfg         *config.Config
	Paths       workspace.Paths
	Log         hclog.Logger
	Broadcaster *broadcast.Broadcaster
	Autopilot   *autopilot.Autopilot

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New wires a Server.
func New(cfg *config.Config, paths workspace.Paths, b *broadcast.Broadcaster, a *autopilot.Autopilot, log hclog.Logger) *Server {
	return &Server{
		Cfg:         cfg,
		Paths:       paths,
		Log:         log,
		Broadcaster: b,
		Autopilot:   a,
		upgrader: websocket.Upgrader{
			// Local observability endpoint; the dashboard connects from
			// file:// and localhost origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/status", s.handleStatus)
		api.Get("/config", s.handleConfig)

		api.Get("/agents", s.handleAgents)
		api.Get("/agents/active", s.handleAgentsActive)
		api.Get("/agents/{name}", s.handleAgent)
		api.Get("/agents/{name}/inspect", s.handleAgentInspect)
		api.Get("/agents/{name}/events", s.handleAgentEvents)

		api.Get("/mail", s.handleMail)
		api.Get("/mail/unread", s.handleMailUnread)
		api.Get("/mail/conversations", s.handleMailConversations)
		api.Get("/mail/thread/{id}", s.handleMailThread)
		api.Get("/mail/{id}", s.handleMailByID)
		api.Post("/mail/send", s.handleMailSend)

		api.Get("/events", s.handleEvents)
		api.Get("/events/errors", s.handleEventErrors)
		api.Get("/events/tools", s.handleEventTools)

		api.Get("/metrics", s.handleMetrics)
		api.Get("/metrics/snapshots", s.handleMetricsSnapshots)

		api.Get("/runs", s.handleRuns)
		api.Get("/runs/active", s.handleRunActive)
		api.Get("/runs/{id}", s.handleRun)

		api.Get("/merge-queue", s.handleMergeQueue)

		api.Get("/issues", s.handleIssues)
		api.Get("/issues/ready", s.handleIssuesReady)
		api.Get("/issues/{id}", s.handleIssue)

		api.Get("/terminal/capture", s.handleTerminalCapture)
		api.Post("/terminal/send", s.handleTerminalSend)

		api.Get("/autopilot/status", s.handleAutopilotStatus)
		api.Post("/autopilot/start", s.handleAutopilotStart)
		api.Post("/autopilot/stop", s.handleAutopilotStop)

		api.Get("/audit", s.handleAuditList)
		api.Post("/audit", s.handleAuditRecord)

		api.Get("/strategy", s.handleStrategy)
		api.Post("/strategy/{id}/approve", s.handleStrategyApprove)
		api.Post("/strategy/{id}/dismiss", s.handleStrategyDismiss)

		api.Get("/setup/status", s.handleSetupStatus)
		api.Post("/setup/init", s.handleSetupInit)
	})

	r.Get("/ws", s.handleWS)
	r.Get("/*", s.handleStatic)
	return r
}

// Start binds and serves until ctx is cancelled, then drains with a
// short grace.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- &errs.ServerError{Addr: addr, Err: err}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// handleWS upgrades to the broadcaster stream.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.Broadcaster.Serve(conn)
}

// handleStatic serves the public directory with SPA fallback: unknown
// paths get index.html so hash-routed clients work.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	root := s.Paths.PublicDir()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rel := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
	if rel == "" {
		rel = "index.html"
	}
	path := filepath.Join(root, rel)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		path = filepath.Join(root, "index.html")
	}
	http.ServeFile(w, r, path)
}

// writeJSON writes a 200 JSON body.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {error} envelope with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// fail maps an error onto the HTTP status convention: 404 for missing
// resources, 400 for validation, 500 otherwise.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errs.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.Log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
