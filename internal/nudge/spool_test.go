package nudge

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/legio-dev/legio/internal/util"
)

func TestSpoolWritesEntry(t *testing.T) {
	d, _ := testDispatcher(t)
	if err := Spool(d.Paths, "builder-1", "check your mail"); err != nil {
		t.Fatalf("Spool() error = %v", err)
	}

	entries, err := os.ReadDir(d.Paths.PendingNudges())
	if err != nil {
		t.Fatalf("reading spool dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("spool has %d entries, want 1", len(entries))
	}

	var entry spoolEntry
	if err := util.ReadJSON(filepath.Join(d.Paths.PendingNudges(), entries[0].Name()), &entry); err != nil {
		t.Fatalf("reading spooled entry: %v", err)
	}
	if entry.Agent != "builder-1" || entry.Message != "check your mail" {
		t.Errorf("entry = %+v, want builder-1/check your mail", entry)
	}
	if entry.QueuedAt.IsZero() {
		t.Error("QueuedAt is zero, want stamped")
	}
}

func TestDrainSpoolEmptyDir(t *testing.T) {
	d, _ := testDispatcher(t)
	n, err := d.DrainSpool()
	if err != nil {
		t.Fatalf("DrainSpool() error = %v", err)
	}
	if n != 0 {
		t.Errorf("DrainSpool() = %d, want 0", n)
	}
}

func TestDrainSpoolKeepsUndeliverable(t *testing.T) {
	d, _ := testDispatcher(t)
	// No session exists for the agent, so delivery fails and the entry
	// stays queued.
	if err := Spool(d.Paths, "ghost", "hello"); err != nil {
		t.Fatal(err)
	}

	n, err := d.DrainSpool()
	if err != nil {
		t.Fatalf("DrainSpool() error = %v", err)
	}
	if n != 0 {
		t.Errorf("DrainSpool() = %d, want 0", n)
	}

	entries, _ := os.ReadDir(d.Paths.PendingNudges())
	if len(entries) != 1 {
		t.Errorf("spool has %d entries after drain, want 1 kept", len(entries))
	}
}

func TestDrainSpoolDropsExpired(t *testing.T) {
	d, _ := testDispatcher(t)
	if err := os.MkdirAll(d.Paths.PendingNudges(), 0o755); err != nil {
		t.Fatal(err)
	}

	old := spoolEntry{Agent: "ghost", Message: "stale", QueuedAt: time.Now().Add(-2 * time.Hour)}
	name := fmt.Sprintf("%d-ghost.json", old.QueuedAt.UnixMicro())
	if err := util.AtomicWriteJSON(filepath.Join(d.Paths.PendingNudges(), name), old); err != nil {
		t.Fatal(err)
	}

	if _, err := d.DrainSpool(); err != nil {
		t.Fatalf("DrainSpool() error = %v", err)
	}
	entries, _ := os.ReadDir(d.Paths.PendingNudges())
	if len(entries) != 0 {
		t.Errorf("spool has %d entries, want expired entry dropped", len(entries))
	}
}

func TestDrainSpoolDropsUnreadable(t *testing.T) {
	d, _ := testDispatcher(t)
	if err := os.MkdirAll(d.Paths.PendingNudges(), 0o755); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(d.Paths.PendingNudges(), "0-corrupt.json")
	if err := os.WriteFile(bad, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := d.DrainSpool(); err != nil {
		t.Fatalf("DrainSpool() error = %v", err)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("corrupt spool entry not removed")
	}
}
