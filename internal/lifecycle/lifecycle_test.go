package lifecycle

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/overlay"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/workspace"
	"github.com/legio-dev/legio/internal/worktree"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	gitRun(t, root, "init", "-b", "main")
	gitRun(t, root, "config", "user.email", "test@example.com")
	gitRun(t, root, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("initial\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, root, "add", "README.md")
	gitRun(t, root, "commit", "-m", "initial commit")

	paths := workspace.NewPaths(root)
	if err := os.MkdirAll(paths.Worktrees(), 0o755); err != nil {
		t.Fatal(err)
	}

	sessions, err := state.Open(paths.SessionsDB())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sessions.Close() })

	events, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { events.Close() })

	e := New(config.Default(), paths, sessions, worktree.NewManager(root), tmux.New(), events, hclog.NewNullLogger())
	e.sleep = func(time.Duration) {}
	return e
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// stubTmux shadows the tmux binary with a failing script so session
// creation deterministically fails.
func stubTmux(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	script := "#!/bin/sh\nexit 1\n"
	if err := os.WriteFile(filepath.Join(bin, "tmux"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestSpawnValidation(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		req  SpawnRequest
	}{
		{"unknown capability", SpawnRequest{Capability: "wizard", Task: "t1"}},
		{"missing task", SpawnRequest{Capability: state.CapBuilder}},
		{"unknown parent", SpawnRequest{Capability: state.CapBuilder, Task: "t1", Parent: "ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Spawn(tt.req)
			if !errs.IsValidation(err) {
				t.Errorf("Spawn() error = %v, want validation", err)
			}
		})
	}
}

func TestSpawnRejectsInactiveParent(t *testing.T) {
	e := newEngine(t)
	err := e.Sessions.Upsert(&state.Session{
		ID: "sess-p", Name: "lead-1", Capability: state.CapCoordinator,
		State: state.StateCompleted, StartedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Spawn(SpawnRequest{Capability: state.CapBuilder, Task: "t1", Parent: "lead-1"})
	if !errs.IsValidation(err) {
		t.Errorf("Spawn() error = %v, want validation for inactive parent", err)
	}
}

func TestSpawnEnforcesDepthCap(t *testing.T) {
	e := newEngine(t)
	e.Cfg.Agents.MaxDepth = 1
	err := e.Sessions.Upsert(&state.Session{
		ID: "sess-p", Name: "lead-1", Capability: state.CapCoordinator,
		State: state.StateWorking, Depth: 0, StartedAt: time.Now(), LastActivity: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Spawn(SpawnRequest{Capability: state.CapBuilder, Task: "t1", Parent: "lead-1"})
	if !errs.IsValidation(err) || !strings.Contains(err.Error(), "depth") {
		t.Errorf("Spawn() error = %v, want depth validation", err)
	}
}

func TestSpawnEnforcesChildrenCap(t *testing.T) {
	e := newEngine(t)
	e.Cfg.Agents.MaxChildren = 1
	sessions := []*state.Session{
		{ID: "sess-p", Name: "lead-1", Capability: state.CapCoordinator, State: state.StateWorking},
		{ID: "sess-c", Name: "builder-1", Capability: state.CapBuilder, State: state.StateWorking, Parent: "lead-1"},
	}
	for _, sess := range sessions {
		sess.StartedAt = time.Now()
		sess.LastActivity = time.Now()
		if err := e.Sessions.Upsert(sess); err != nil {
			t.Fatal(err)
		}
	}

	_, err := e.Spawn(SpawnRequest{Capability: state.CapBuilder, Task: "t1", Parent: "lead-1"})
	if !errs.IsValidation(err) || !strings.Contains(err.Error(), "children") {
		t.Errorf("Spawn() error = %v, want children-cap validation", err)
	}
}

func TestSpawnRollsBackOnSessionFailure(t *testing.T) {
	stubTmux(t)
	e := newEngine(t)

	_, err := e.Spawn(SpawnRequest{Capability: state.CapBuilder, Task: "task-1"})
	if err == nil {
		t.Fatal("Spawn() error = nil, want session creation failure")
	}

	// Everything the partial spawn created is gone again.
	entries, listErr := e.Worktrees.List()
	if listErr != nil {
		t.Fatal(listErr)
	}
	if len(entries) != 0 {
		t.Errorf("worktrees after rollback = %v, want none", entries)
	}
	all, _ := e.Sessions.All()
	if len(all) != 0 {
		t.Errorf("sessions after rollback = %v, want none", all)
	}
}

func TestTerminate(t *testing.T) {
	e := newEngine(t)
	e.Cfg.Worktrees.AutoClean = true

	wtPath := e.Paths.Worktree("builder-1")
	branch := worktree.BranchName("builder-1", "task-1")
	if err := e.Worktrees.Create(wtPath, branch, "main"); err != nil {
		t.Fatal(err)
	}
	err := e.Sessions.Upsert(&state.Session{
		ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder,
		Worktree: wtPath, Branch: branch, TaskID: "task-1",
		State: state.StateWorking, StartedAt: time.Now(), LastActivity: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Terminate("builder-1"); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	sess, err := e.Sessions.ByName("builder-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != state.StateCompleted {
		t.Errorf("State = %q, want completed", sess.State)
	}

	identity, err := overlay.LoadIdentity(e.Paths.IdentityFile("builder-1"), "builder-1")
	if err != nil {
		t.Fatal(err)
	}
	if identity.SessionsCompleted != 1 {
		t.Errorf("SessionsCompleted = %d, want 1", identity.SessionsCompleted)
	}

	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Error("worktree still present after auto-clean terminate")
	}

	events, _ := e.Events.Timeline(eventlog.Query{})
	if len(events) != 1 || events[0].Type != eventlog.TypeSessionEnd {
		t.Errorf("events = %v, want one session_end", events)
	}
}

func TestTerminateAlreadyEnded(t *testing.T) {
	e := newEngine(t)
	err := e.Sessions.Upsert(&state.Session{
		ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder,
		State: state.StateCompleted, StartedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Terminate("builder-1"); !errs.IsValidation(err) {
		t.Errorf("Terminate() error = %v, want validation", err)
	}
}

func TestCleanWorktrees(t *testing.T) {
	e := newEngine(t)

	endedPath := e.Paths.Worktree("builder-1")
	if err := e.Worktrees.Create(endedPath, worktree.BranchName("builder-1", "t1"), "main"); err != nil {
		t.Fatal(err)
	}
	livePath := e.Paths.Worktree("builder-2")
	if err := e.Worktrees.Create(livePath, worktree.BranchName("builder-2", "t2"), "main"); err != nil {
		t.Fatal(err)
	}

	sessions := []*state.Session{
		{ID: "sess-1", Name: "builder-1", Capability: state.CapBuilder, State: state.StateCompleted, Worktree: endedPath},
		{ID: "sess-2", Name: "builder-2", Capability: state.CapBuilder, State: state.StateWorking, Worktree: livePath},
	}
	for _, sess := range sessions {
		sess.StartedAt = time.Now()
		if err := e.Sessions.Upsert(sess); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := e.CleanWorktrees()
	if err != nil {
		t.Fatalf("CleanWorktrees() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(endedPath); !os.IsNotExist(err) {
		t.Error("ended worktree still present")
	}
	if _, err := os.Stat(livePath); err != nil {
		t.Error("live worktree removed")
	}
}

func TestBaseBranch(t *testing.T) {
	e := newEngine(t)

	if got := e.baseBranch(); got != "main" {
		t.Errorf("baseBranch() = %q, want main", got)
	}

	if err := os.MkdirAll(filepath.Dir(e.Paths.SessionBranchFile()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.Paths.SessionBranchFile(), []byte("session-main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := e.baseBranch(); got != "session-main" {
		t.Errorf("baseBranch() = %q, want session-main", got)
	}
}
