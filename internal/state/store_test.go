package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(id, name string) *Session {
	return &Session{
		ID:           id,
		Name:         name,
		Capability:   CapBuilder,
		State:        StateBooting,
		StartedAt:    time.Now(),
		LastActivity: time.Now(),
	}
}

func TestCapabilityValid(t *testing.T) {
	for _, c := range Capabilities {
		if !c.Valid() {
			t.Errorf("Capability(%q).Valid() = false, want true", c)
		}
	}
	if Capability("wizard").Valid() {
		t.Error(`Capability("wizard").Valid() = true, want false`)
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		state SessionState
		want  bool
	}{
		{StateBooting, false},
		{StateWorking, false},
		{StateStalled, false},
		{StateCompleted, true},
		{StateZombie, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestUpsertRequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(&Session{Name: "builder-1"}); !errs.IsValidation(err) {
		t.Errorf("Upsert() error = %v, want validation error", err)
	}
}

func TestUpsertAndByName(t *testing.T) {
	s := openTestStore(t)
	sess := newSession("sess-1", "builder-1")
	sess.Branch = "legio/builder-1/task"
	if err := s.Upsert(sess); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.ByName("builder-1")
	if err != nil {
		t.Fatalf("ByName() error = %v", err)
	}
	if got.ID != "sess-1" {
		t.Errorf("ID = %q, want sess-1", got.ID)
	}
	if got.Branch != "legio/builder-1/task" {
		t.Errorf("Branch = %q, want legio/builder-1/task", got.Branch)
	}
	if got.State != StateBooting {
		t.Errorf("State = %q, want %q", got.State, StateBooting)
	}
}

func TestByNamePrefersActive(t *testing.T) {
	s := openTestStore(t)

	old := newSession("sess-old", "builder-1")
	old.StartedAt = time.Now().Add(-time.Hour)
	old.State = StateCompleted
	if err := s.Upsert(old); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Active session started earlier than a newer terminal one still wins.
	live := newSession("sess-live", "builder-1")
	live.StartedAt = time.Now().Add(-2 * time.Hour)
	live.State = StateWorking
	if err := s.Upsert(live); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.ByName("builder-1")
	if err != nil {
		t.Fatalf("ByName() error = %v", err)
	}
	if got.ID != "sess-live" {
		t.Errorf("ByName() = %q, want sess-live", got.ID)
	}
}

func TestByNameNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.ByName("ghost"); !errs.IsNotFound(err) {
		t.Errorf("ByName() error = %v, want not found", err)
	}
}

func TestTouchPromotesBooting(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(newSession("sess-1", "builder-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	at := time.Now()
	if err := s.Touch("sess-1", at); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := s.ByID("sess-1")
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if got.State != StateWorking {
		t.Errorf("State = %q, want %q", got.State, StateWorking)
	}
	if got.LastActivity.UnixMicro() != at.UnixMicro() {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, at)
	}
}

func TestTouchClearsStall(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(newSession("sess-1", "builder-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.MarkStalled("sess-1", time.Now()); err != nil {
		t.Fatalf("MarkStalled() error = %v", err)
	}
	if err := s.SetEscalation("sess-1", 3); err != nil {
		t.Fatalf("SetEscalation() error = %v", err)
	}

	if err := s.Touch("sess-1", time.Now()); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	got, _ := s.ByID("sess-1")
	if !got.StalledSince.IsZero() {
		t.Errorf("StalledSince = %v, want zero", got.StalledSince)
	}
	if got.Escalation != 0 {
		t.Errorf("Escalation = %d, want 0", got.Escalation)
	}
}

func TestTouchIgnoresTerminal(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(newSession("sess-1", "builder-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.MarkEnded("sess-1", StateCompleted, time.Now()); err != nil {
		t.Fatalf("MarkEnded() error = %v", err)
	}

	if err := s.Touch("sess-1", time.Now()); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	got, _ := s.ByID("sess-1")
	if got.State != StateCompleted {
		t.Errorf("State = %q, want %q (terminal is final)", got.State, StateCompleted)
	}
}

func TestMarkStalledAndReset(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(newSession("sess-1", "builder-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := s.MarkStalled("sess-1", time.Now()); err != nil {
		t.Fatalf("MarkStalled() error = %v", err)
	}
	got, _ := s.ByID("sess-1")
	if got.State != StateStalled {
		t.Errorf("State = %q, want %q", got.State, StateStalled)
	}
	if got.Escalation != 1 {
		t.Errorf("Escalation = %d, want 1", got.Escalation)
	}

	if err := s.ResetStall("sess-1", time.Now()); err != nil {
		t.Fatalf("ResetStall() error = %v", err)
	}
	got, _ = s.ByID("sess-1")
	if got.State != StateWorking {
		t.Errorf("State after reset = %q, want %q", got.State, StateWorking)
	}
}

func TestMarkEnded(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(newSession("sess-1", "builder-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := s.MarkEnded("sess-1", StateWorking, time.Now()); !errs.IsValidation(err) {
		t.Errorf("MarkEnded(working) error = %v, want validation error", err)
	}

	first := time.Now().Add(-time.Minute)
	if err := s.MarkEnded("sess-1", StateCompleted, first); err != nil {
		t.Fatalf("MarkEnded() error = %v", err)
	}
	// Idempotent: a later zombie mark does not overwrite completed.
	if err := s.MarkEnded("sess-1", StateZombie, time.Now()); err != nil {
		t.Fatalf("second MarkEnded() error = %v", err)
	}
	got, _ := s.ByID("sess-1")
	if got.State != StateCompleted {
		t.Errorf("State = %q, want %q", got.State, StateCompleted)
	}
	if got.StoppedAt.UnixMicro() != first.UnixMicro() {
		t.Errorf("StoppedAt = %v, want %v", got.StoppedAt, first)
	}
}

func TestActiveAndChildren(t *testing.T) {
	s := openTestStore(t)
	parent := newSession("sess-p", "lead-1")
	parent.Capability = CapLead
	child := newSession("sess-c", "builder-1")
	child.Parent = "lead-1"
	child.Depth = 1
	done := newSession("sess-d", "builder-2")
	done.Parent = "lead-1"
	done.State = StateCompleted
	for _, sess := range []*Session{parent, child, done} {
		if err := s.Upsert(sess); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	active, err := s.Active()
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Active() = %d sessions, want 2", len(active))
	}

	children, err := s.ChildrenOf("lead-1")
	if err != nil {
		t.Fatalf("ChildrenOf() error = %v", err)
	}
	if len(children) != 1 || children[0].ID != "sess-c" {
		t.Errorf("ChildrenOf() = %v, want [sess-c]", children)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	run, err := s.CreateRun("sess-coord")
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if !strings.HasPrefix(run.ID, "run-") {
		t.Errorf("run ID = %q, want run- prefix", run.ID)
	}
	if run.Status != RunActive {
		t.Errorf("Status = %q, want %q", run.Status, RunActive)
	}

	// Singleton: a second active run is refused.
	if _, err := s.CreateRun("sess-other"); !errs.IsValidation(err) {
		t.Errorf("second CreateRun() error = %v, want validation error", err)
	}

	active, err := s.ActiveRun()
	if err != nil {
		t.Fatalf("ActiveRun() error = %v", err)
	}
	if active.ID != run.ID {
		t.Errorf("ActiveRun() = %q, want %q", active.ID, run.ID)
	}

	if err := s.EndRun(run.ID, RunActive); !errs.IsValidation(err) {
		t.Errorf("EndRun(active) error = %v, want validation error", err)
	}
	if err := s.EndRun(run.ID, RunCompleted); err != nil {
		t.Fatalf("EndRun() error = %v", err)
	}
	if _, err := s.ActiveRun(); !errs.IsNotFound(err) {
		t.Errorf("ActiveRun() after end error = %v, want not found", err)
	}

	// A new run can start once the previous one ended.
	if _, err := s.CreateRun("sess-next"); err != nil {
		t.Fatalf("CreateRun() after end error = %v", err)
	}
}

func TestEndRunUnknown(t *testing.T) {
	s := openTestStore(t)
	if err := s.EndRun("run-nope", RunCompleted); !errs.IsNotFound(err) {
		t.Errorf("EndRun() error = %v, want not found", err)
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreateRun("c1")
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.EndRun(run.ID, RunAborted); err != nil {
		t.Fatalf("EndRun() error = %v", err)
	}
	if _, err := s.CreateRun("c2"); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	all, err := s.ListRuns("", 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListRuns() = %d, want 2", len(all))
	}

	aborted, err := s.ListRuns(RunAborted, 0)
	if err != nil {
		t.Fatalf("ListRuns(aborted) error = %v", err)
	}
	if len(aborted) != 1 || aborted[0].ID != run.ID {
		t.Errorf("ListRuns(aborted) = %v, want [%s]", aborted, run.ID)
	}
}

func TestAllMergesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Upsert(newSession("sess-db", "builder-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	legacyPath := filepath.Join(dir, "sessions.json")
	legacy := []*Session{
		newSession("sess-legacy", "scout-old"),
		newSession("sess-db", "builder-1"), // duplicate, must not double
	}
	if err := util.AtomicWriteJSON(legacyPath, legacy); err != nil {
		t.Fatalf("writing legacy file: %v", err)
	}
	s.SetLegacyPath(legacyPath)

	all, err := s.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("All() = %d sessions, want 2", len(all))
	}

	// A corrupt legacy file must not break reads.
	if err := os.WriteFile(legacyPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	all, err = s.All()
	if err != nil {
		t.Fatalf("All() with corrupt legacy error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("All() = %d sessions, want 1", len(all))
	}
}
