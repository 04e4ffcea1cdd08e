package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/broadcast"
	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/util"
	"github.com/legio-dev/legio/internal/workspace"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	paths := workspace.NewPaths(t.TempDir())
	cfg := config.Default()
	log := hclog.NewNullLogger()
	return New(cfg, paths, broadcast.New(paths, log), nil, log)
}

func seedSessions(t *testing.T, s *Server) {
	t.Helper()
	store, err := state.Open(s.Paths.SessionsDB())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	err = store.Upsert(&state.Session{
		ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder,
		State: state.StateWorking, TaskID: "task-1",
		StartedAt: time.Now(), LastActivity: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func seedMail(t *testing.T, s *Server, msgs ...*mail.Message) {
	t.Helper()
	store, err := mail.Open(s.Paths.MailDB())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	for _, m := range msgs {
		if err := store.Insert(m); err != nil {
			t.Fatal(err)
		}
	}
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["ok"] != true {
		t.Errorf("body = %v, want ok true", body)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/no-such-route", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}

	rec = do(t, s, http.MethodDelete, "/api/health", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("bad method status = %d, want 405", rec.Code)
	}
}

func TestAgentsMissingStore(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/agents", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for absent sessions db", rec.Code)
	}
	// The handler must not have created a stray database file.
	if _, err := os.Stat(s.Paths.SessionsDB()); !os.IsNotExist(err) {
		t.Error("sessions db created by a read handler")
	}
}

func TestAgents(t *testing.T) {
	s := newTestServer(t)
	seedSessions(t, s)

	rec := do(t, s, http.MethodGet, "/api/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var sessions []*state.Session
	decode(t, rec, &sessions)
	if len(sessions) != 1 || sessions[0].Name != "builder-1" {
		t.Errorf("sessions = %v, want builder-1", sessions)
	}

	rec = do(t, s, http.MethodGet, "/api/agents/builder-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var sess state.Session
	decode(t, rec, &sess)
	if sess.TaskID != "task-1" {
		t.Errorf("TaskID = %q, want task-1", sess.TaskID)
	}

	rec = do(t, s, http.MethodGet, "/api/agents/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}

func TestMailEndpoints(t *testing.T) {
	s := newTestServer(t)
	seedMail(t, s,
		&mail.Message{From: "builder-1", To: "coordinator", Type: mail.TypeStatus, Subject: "first"},
		&mail.Message{From: "scout-1", To: "builder-1", Type: mail.TypeQuestion, Subject: "second"},
	)

	rec := do(t, s, http.MethodGet, "/api/mail", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var msgs []*mail.Message
	decode(t, rec, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}

	rec = do(t, s, http.MethodGet, "/api/mail?to=coordinator", "")
	decode(t, rec, &msgs)
	if len(msgs) != 1 || msgs[0].Subject != "first" {
		t.Errorf("filtered messages = %v, want the coordinator one", msgs)
	}

	rec = do(t, s, http.MethodGet, "/api/mail/unread", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unread without agent status = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/mail/unread?agent=builder-1", "")
	decode(t, rec, &msgs)
	if len(msgs) != 1 || msgs[0].Subject != "second" {
		t.Errorf("unread = %v, want the question", msgs)
	}

	rec = do(t, s, http.MethodGet, "/api/mail/msg-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown message status = %d, want 404", rec.Code)
	}
}

func TestMailSend(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/mail/send", `{"to":"builder-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing from status = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/mail/send", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	body := `{"from":"orchestrator","to":"builder-1","subject":"hello","type":"status"}`
	rec = do(t, s, http.MethodPost, "/api/mail/send", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}
	var sent []*mail.Message
	decode(t, rec, &sent)
	if len(sent) != 1 || sent[0].ID == "" {
		t.Errorf("sent = %v, want one message with minted id", sent)
	}
}

func TestMailSendBroadcast(t *testing.T) {
	s := newTestServer(t)
	seedSessions(t, s)
	store, err := state.Open(s.Paths.SessionsDB())
	if err != nil {
		t.Fatal(err)
	}
	err = store.Upsert(&state.Session{
		ID: "sess-2", Name: "scout-1", Capability: state.CapScout,
		State: state.StateWorking, StartedAt: time.Now(), LastActivity: time.Now(),
	})
	store.Close()
	if err != nil {
		t.Fatal(err)
	}

	body := `{"from":"orchestrator","to":"@all","subject":"stand up","type":"status"}`
	rec := do(t, s, http.MethodPost, "/api/mail/send", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("broadcast status = %d: %s", rec.Code, rec.Body.String())
	}
	var sent []*mail.Message
	decode(t, rec, &sent)
	if len(sent) != 2 {
		t.Fatalf("broadcast = %d messages, want 2", len(sent))
	}
	if sent[0].ThreadID == "" || sent[0].ThreadID != sent[1].ThreadID {
		t.Errorf("thread ids = %q and %q, want one shared", sent[0].ThreadID, sent[1].ThreadID)
	}
}

func TestStatusAndConfig(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("config endpoint = %d, want 200", rec.Code)
	}
	var cfg config.Config
	decode(t, rec, &cfg)
	if cfg.Project.Name != "legio" {
		t.Errorf("Project.Name = %q, want legio", cfg.Project.Name)
	}
}

func TestAutopilotWithoutDaemon(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/autopilot/status", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a daemon", rec.Code)
	}
	rec = do(t, s, http.MethodPost, "/api/autopilot/start", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("start status = %d, want 404 without a daemon", rec.Code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/audit", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("audit list status = %d, want 404 for absent db", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/audit", `{"action":"spawn"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("record without actor status = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/audit", `{"actor":"operator","action":"spawn","target":"builder-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("record status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/audit?actor=operator", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit list status = %d, want 200", rec.Code)
	}
	var recs []map[string]interface{}
	decode(t, rec, &recs)
	if len(recs) != 1 {
		t.Errorf("records = %v, want one", recs)
	}
}

func TestIssues(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/issues", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("issues status = %d, want 200", rec.Code)
	}
	var issues []Issue
	decode(t, rec, &issues)
	if len(issues) != 0 {
		t.Errorf("issues = %v, want empty without a tracker file", issues)
	}

	seeded := []Issue{
		{ID: "i-1", Title: "fix flake", Status: "ready"},
		{ID: "i-2", Title: "ship feature", Status: "done"},
	}
	if err := util.AtomicWriteJSON(s.Paths.IssuesFile(), seeded); err != nil {
		t.Fatal(err)
	}

	rec = do(t, s, http.MethodGet, "/api/issues/ready", "")
	decode(t, rec, &issues)
	if len(issues) != 1 || issues[0].ID != "i-1" {
		t.Errorf("ready issues = %v, want i-1", issues)
	}

	rec = do(t, s, http.MethodGet, "/api/issues/i-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d, want 200", rec.Code)
	}
	var issue Issue
	decode(t, rec, &issue)
	if issue.Title != "ship feature" {
		t.Errorf("issue = %+v, want ship feature", issue)
	}

	rec = do(t, s, http.MethodGet, "/api/issues/i-404", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown issue status = %d, want 404", rec.Code)
	}
}

func TestStrategyDecisions(t *testing.T) {
	s := newTestServer(t)
	proposals := []Proposal{
		{ID: "p-1", Title: "split the queue", Status: "pending"},
		{ID: "p-2", Title: "retire scouts", Status: "pending"},
	}
	if err := util.AtomicWriteJSON(s.Paths.StrategyFile(), proposals); err != nil {
		t.Fatal(err)
	}

	rec := do(t, s, http.MethodPost, "/api/strategy/p-1/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	var decided Proposal
	decode(t, rec, &decided)
	if decided.Status != "approved" || decided.DecidedAt.IsZero() {
		t.Errorf("proposal = %+v, want approved with decision time", decided)
	}

	rec = do(t, s, http.MethodPost, "/api/strategy/p-2/dismiss", "")
	decode(t, rec, &decided)
	if decided.Status != "dismissed" {
		t.Errorf("proposal = %+v, want dismissed", decided)
	}

	// Decisions persist.
	rec = do(t, s, http.MethodGet, "/api/strategy", "")
	var all []Proposal
	decode(t, rec, &all)
	if len(all) != 2 || all[0].Status != "approved" || all[1].Status != "dismissed" {
		t.Errorf("proposals = %v, want both decided", all)
	}

	rec = do(t, s, http.MethodPost, "/api/strategy/p-404/approve", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown proposal status = %d, want 404", rec.Code)
	}
}

func TestSetupEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/setup/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d, want 200", rec.Code)
	}
	var st struct {
		Initialized bool `json:"initialized"`
	}
	decode(t, rec, &st)
	if st.Initialized {
		t.Error("Initialized = true before init")
	}

	rec = do(t, s, http.MethodPost, "/api/setup/init", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &st)
	if !st.Initialized {
		t.Error("Initialized = false after init")
	}

	// Re-running without force is a validation error.
	rec = do(t, s, http.MethodPost, "/api/setup/init", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("repeat init status = %d, want 400", rec.Code)
	}
}

func TestTerminalValidation(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/terminal/capture", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("capture without agent status = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/terminal/send", `{"agent":"builder-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("send without text status = %d, want 400", rec.Code)
	}
}

func TestMergeQueueMissingStore(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/merge-queue", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for absent queue db", rec.Code)
	}
}
