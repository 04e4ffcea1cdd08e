package nudge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/workspace"
)

func testDispatcher(t *testing.T) (*Dispatcher, *state.Store) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, workspace.Dir), 0o755); err != nil {
		t.Fatal(err)
	}
	paths := workspace.NewPaths(root)

	sessions, err := state.Open(paths.SessionsDB())
	if err != nil {
		t.Fatalf("opening session store: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	d := NewDispatcher(tmux.New(), sessions, paths, nil, "proj", hclog.NewNullLogger())
	d.sleep = func(time.Duration) {}
	return d, sessions
}

func TestSendUnknownAgent(t *testing.T) {
	d, _ := testDispatcher(t)
	res, err := d.Send("ghost", "hello", false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Delivered {
		t.Error("Delivered = true, want false")
	}
	if !strings.Contains(res.Reason, "no session for agent ghost") {
		t.Errorf("Reason = %q, want no-session reason", res.Reason)
	}
}

func TestSendOrchestratorUnregistered(t *testing.T) {
	d, _ := testDispatcher(t)
	res, err := d.Send(Orchestrator, "hello", false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Delivered || !strings.Contains(res.Reason, "no session for agent") {
		t.Errorf("result = %+v, want no-session reason", res)
	}
}

func TestResolveTargetOrchestrator(t *testing.T) {
	d, _ := testDispatcher(t)
	if err := RegisterOrchestrator(d.Paths, "my-terminal"); err != nil {
		t.Fatalf("RegisterOrchestrator() error = %v", err)
	}
	target, err := d.resolveTarget(Orchestrator)
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	if target != "my-terminal" {
		t.Errorf("resolveTarget() = %q, want my-terminal", target)
	}
}

func TestResolveTargetFallsBackToNamingScheme(t *testing.T) {
	d, sessions := testDispatcher(t)
	sess := &state.Session{
		ID:         "sess-1",
		Name:       "builder-1",
		Capability: state.CapBuilder,
		State:      state.StateWorking,
		StartedAt:  time.Now(),
	}
	if err := sessions.Upsert(sess); err != nil {
		t.Fatal(err)
	}

	target, err := d.resolveTarget("builder-1")
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	if want := tmux.SessionName("proj", "builder-1"); target != want {
		t.Errorf("resolveTarget() = %q, want %q", target, want)
	}

	sess.TmuxSession = "custom-session"
	if err := sessions.Upsert(sess); err != nil {
		t.Fatal(err)
	}
	target, err = d.resolveTarget("builder-1")
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	if target != "custom-session" {
		t.Errorf("resolveTarget() = %q, want custom-session", target)
	}
}

func TestSendDebounced(t *testing.T) {
	d, sessions := testDispatcher(t)
	if err := sessions.Upsert(&state.Session{
		ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder,
		State: state.StateWorking, StartedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := d.recordNudge("builder-1"); err != nil {
		t.Fatalf("recordNudge() error = %v", err)
	}

	res, err := d.Send("builder-1", "hello", false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Delivered || res.Reason != "debounced" {
		t.Errorf("result = %+v, want debounced", res)
	}
}

func TestDebounceWindowExpires(t *testing.T) {
	d, _ := testDispatcher(t)
	if err := d.recordNudge("builder-1"); err != nil {
		t.Fatalf("recordNudge() error = %v", err)
	}

	got, err := d.debounced("builder-1")
	if err != nil {
		t.Fatalf("debounced() error = %v", err)
	}
	if !got {
		t.Error("debounced() = false inside window, want true")
	}

	d.now = func() time.Time { return time.Now().Add(DebounceWindow + time.Second) }
	got, err = d.debounced("builder-1")
	if err != nil {
		t.Fatalf("debounced() error = %v", err)
	}
	if got {
		t.Error("debounced() = true after window, want false")
	}
}

func TestForceBypassesDebounce(t *testing.T) {
	d, sessions := testDispatcher(t)
	if err := sessions.Upsert(&state.Session{
		ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder,
		State: state.StateWorking, StartedAt: time.Now(),
		TmuxSession: "legio-proj-builder-1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.recordNudge("builder-1"); err != nil {
		t.Fatal(err)
	}

	// With force the debounce is skipped; the session is not alive here,
	// so the outcome is the liveness reason rather than "debounced".
	res, err := d.Send("builder-1", "hello", true)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Reason == "debounced" {
		t.Error("force nudge reported debounced")
	}
}

func TestSendDeadSession(t *testing.T) {
	d, sessions := testDispatcher(t)
	if err := sessions.Upsert(&state.Session{
		ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder,
		State: state.StateWorking, StartedAt: time.Now(),
		TmuxSession: "legio-proj-builder-1-dead",
	}); err != nil {
		t.Fatal(err)
	}

	res, err := d.Send("builder-1", "hello", false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Delivered {
		t.Error("Delivered = true, want false")
	}
	if !strings.Contains(res.Reason, "is not alive") {
		t.Errorf("Reason = %q, want liveness reason", res.Reason)
	}
}
