package server

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/legio-dev/legio/internal/audit"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/mergeq"
	"github.com/legio-dev/legio/internal/metrics"
	"github.com/legio-dev/legio/internal/overlay"
	"github.com/legio-dev/legio/internal/setup"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
)

// Store openers. Missing backing files surface as 404, never as created
// empty databases.

func (s *Server) openSessions() (*state.Store, error) {
	if _, err := os.Stat(s.Paths.SessionsDB()); err != nil {
		return nil, errs.NotFound("sessions database", s.Paths.SessionsDB())
	}
	return state.Open(s.Paths.SessionsDB())
}

func (s *Server) openMail() (*mail.Store, error) {
	if _, err := os.Stat(s.Paths.MailDB()); err != nil {
		return nil, errs.NotFound("mail database", s.Paths.MailDB())
	}
	return mail.Open(s.Paths.MailDB())
}

func (s *Server) openEvents() (*eventlog.Store, error) {
	if _, err := os.Stat(s.Paths.EventsDB()); err != nil {
		return nil, errs.NotFound("events database", s.Paths.EventsDB())
	}
	return eventlog.Open(s.Paths.EventsDB())
}

func (s *Server) openQueue() (*mergeq.Queue, error) {
	if _, err := os.Stat(s.Paths.MergeQueueDB()); err != nil {
		return nil, errs.NotFound("merge queue database", s.Paths.MergeQueueDB())
	}
	return mergeq.Open(s.Paths.MergeQueueDB())
}

func intQuery(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func timeQuery(r *http.Request, key string) time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func eventQuery(r *http.Request) eventlog.Query {
	return eventlog.Query{
		Since: timeQuery(r, "since"),
		Until: timeQuery(r, "until"),
		Limit: intQuery(r, "limit"),
		Level: r.URL.Query().Get("level"),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{"ok": true, "timestamp": time.Now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.Broadcaster.Gather()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Cfg)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	sessions, err := store.All()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, sessions)
}

func (s *Server) handleAgentsActive(w http.ResponseWriter, _ *http.Request) {
	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	sessions, err := store.Active()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, sessions)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	sess, err := store.ByName(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleAgentInspect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	sess, err := store.ByName(name)
	_ = store.Close()
	if err != nil {
		s.fail(w, err)
		return
	}

	result := map[string]interface{}{"session": sess}

	if identity, err := overlay.LoadIdentity(s.Paths.IdentityFile(name), name); err == nil {
		result["identity"] = identity
	}
	if cp, err := overlay.LoadCheckpoint(s.Paths.CheckpointFile(name)); err == nil && cp != nil {
		result["checkpoint"] = cp
	}
	if events, err := s.openEvents(); err == nil {
		if recent, err := events.ByAgent(name, eventlog.Query{Limit: 20}); err == nil {
			result["events"] = recent
		}
		_ = events.Close()
	}
	if sess.TmuxSession != "" {
		if capture, err := tmux.New().Capture(sess.TmuxSession, 30); err == nil {
			result["capture"] = capture
		}
	}
	writeJSON(w, result)
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	store, err := s.openEvents()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	events, err := store.ByAgent(chi.URLParam(r, "name"), eventQuery(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleMail(w http.ResponseWriter, r *http.Request) {
	store, err := s.openMail()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	msgs, err := store.All(mail.Filter{
		From:   r.URL.Query().Get("from"),
		To:     r.URL.Query().Get("to"),
		Unread: r.URL.Query().Get("unread") == "true",
		Limit:  intQuery(r, "limit"),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleMailUnread(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter required")
		return
	}
	store, err := s.openMail()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	msgs, err := store.Unread(agent)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleMailConversations(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter required")
		return
	}
	store, err := s.openMail()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	msgs, err := store.Conversations(agent)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleMailThread(w http.ResponseWriter, r *http.Request) {
	store, err := s.openMail()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	msgs, err := store.ByThread(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleMailByID(w http.ResponseWriter, r *http.Request) {
	store, err := s.openMail()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	msg, err := store.ByID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, msg)
}

func (s *Server) handleMailSend(w http.ResponseWriter, r *http.Request) {
	var m mail.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if m.From == "" || m.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	store, err := mail.Open(s.Paths.MailDB())
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	if !mail.IsGroupAddress(m.To) {
		if err := store.Insert(&m); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, []*mail.Message{&m})
		return
	}

	sessions, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	active, err := sessions.Active()
	_ = sessions.Close()
	if err != nil {
		s.fail(w, err)
		return
	}

	expanded, err := mail.ExpandBroadcast(&m, active)
	if err != nil {
		s.fail(w, err)
		return
	}
	for _, msg := range expanded {
		if err := store.Insert(msg); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, expanded)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	store, err := s.openEvents()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	events, err := store.Timeline(eventQuery(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleEventErrors(w http.ResponseWriter, r *http.Request) {
	store, err := s.openEvents()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	events, err := store.Errors(eventQuery(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleEventTools(w http.ResponseWriter, r *http.Request) {
	store, err := s.openEvents()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	stats, err := store.ToolStats(r.URL.Query().Get("agent"), timeQuery(r, "since"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.Broadcaster.Gather()
	if err != nil {
		s.fail(w, err)
		return
	}

	// Persist the measurement so the snapshot history accumulates while
	// the server runs. Best-effort.
	if store, err := metrics.Open(s.Paths.MetricsDB()); err == nil {
		_ = store.Record(&metrics.Snapshot{
			TotalSessions:  snap.Metrics.TotalSessions,
			ActiveSessions: snap.Metrics.ActiveCount,
			AvgDurationMs:  snap.Metrics.AvgDurationMs,
			UnreadMail:     snap.UnreadCount,
			QueueDepth:     len(snap.MergeQueue),
		})
		_ = store.Close()
	}
	writeJSON(w, snap.Metrics)
}

func (s *Server) handleMetricsSnapshots(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.Paths.MetricsDB()); err != nil {
		s.fail(w, errs.NotFound("metrics database", s.Paths.MetricsDB()))
		return
	}
	store, err := metrics.Open(s.Paths.MetricsDB())
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	snaps, err := store.List(intQuery(r, "limit"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, snaps)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	runs, err := store.ListRuns(state.RunStatus(r.URL.Query().Get("status")), intQuery(r, "limit"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunActive(w http.ResponseWriter, _ *http.Request) {
	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	run, err := store.ActiveRun()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	run, err := store.Run(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleMergeQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.openQueue()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer queue.Close()

	entries, err := queue.List(mergeq.Status(r.URL.Query().Get("status")))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleTerminalCapture(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter required")
		return
	}

	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	sess, err := store.ByName(agent)
	_ = store.Close()
	if err != nil {
		s.fail(w, err)
		return
	}

	capture, err := tmux.New().Capture(sess.TmuxSession, intQuery(r, "lines"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"agent": agent, "capture": capture})
}

func (s *Server) handleTerminalSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Agent == "" || body.Text == "" {
		writeError(w, http.StatusBadRequest, "agent and text are required")
		return
	}

	store, err := s.openSessions()
	if err != nil {
		s.fail(w, err)
		return
	}
	sess, err := store.ByName(body.Agent)
	_ = store.Close()
	if err != nil {
		s.fail(w, err)
		return
	}

	if err := tmux.New().SendKeys(sess.TmuxSession, body.Text); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]bool{"sent": true})
}

func (s *Server) handleAutopilotStatus(w http.ResponseWriter, _ *http.Request) {
	if s.Autopilot == nil {
		writeError(w, http.StatusNotFound, "autopilot not running in this process")
		return
	}
	writeJSON(w, s.Autopilot.State())
}

func (s *Server) handleAutopilotStart(w http.ResponseWriter, _ *http.Request) {
	if s.Autopilot == nil {
		writeError(w, http.StatusNotFound, "autopilot not running in this process")
		return
	}
	s.Autopilot.Start()
	writeJSON(w, s.Autopilot.State())
}

func (s *Server) handleAutopilotStop(w http.ResponseWriter, _ *http.Request) {
	if s.Autopilot == nil {
		writeError(w, http.StatusNotFound, "autopilot not running in this process")
		return
	}
	s.Autopilot.Stop()
	writeJSON(w, s.Autopilot.State())
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.Paths.AuditDB()); err != nil {
		s.fail(w, errs.NotFound("audit database", s.Paths.AuditDB()))
		return
	}
	store, err := audit.Open(s.Paths.AuditDB())
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	recs, err := store.List(audit.Filter{
		Actor:  r.URL.Query().Get("actor"),
		Action: r.URL.Query().Get("action"),
		Limit:  intQuery(r, "limit"),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleAuditRecord(w http.ResponseWriter, r *http.Request) {
	var rec audit.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if rec.Actor == "" || rec.Action == "" {
		writeError(w, http.StatusBadRequest, "actor and action are required")
		return
	}

	store, err := audit.Open(s.Paths.AuditDB())
	if err != nil {
		s.fail(w, err)
		return
	}
	defer store.Close()

	if err := store.Insert(&rec); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleSetupStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, setup.Inspect(s.Paths))
}

func (s *Server) handleSetupInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := setup.Init(s.Paths.Root, body.Force); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, setup.Inspect(s.Paths))
}
