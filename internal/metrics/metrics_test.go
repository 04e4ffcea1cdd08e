package metrics

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)
	snap := &Snapshot{TotalSessions: 5, ActiveSessions: 2, AvgDurationMs: 1500.5, UnreadMail: 3, QueueDepth: 1}
	if err := s.Record(snap); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if snap.ID == 0 {
		t.Error("ID = 0, want assigned")
	}
	if snap.Timestamp.IsZero() {
		t.Error("Timestamp zero, want stamped")
	}

	snaps, err := s.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("List() = %d snapshots, want 1", len(snaps))
	}
	if snaps[0].ActiveSessions != 2 || snaps[0].AvgDurationMs != 1500.5 {
		t.Errorf("snapshot = %+v, want recorded values", snaps[0])
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := s.Record(&Snapshot{Timestamp: base.Add(time.Duration(i) * time.Minute), QueueDepth: i})
		if err != nil {
			t.Fatal(err)
		}
	}

	snaps, err := s.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("List(2) = %d snapshots, want 2", len(snaps))
	}
	if snaps[0].QueueDepth != 2 || snaps[1].QueueDepth != 1 {
		t.Errorf("order = [%d %d], want newest first", snaps[0].QueueDepth, snaps[1].QueueDepth)
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Record(&Snapshot{}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Purge()
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Purge() = %d, want 3", n)
	}
	snaps, _ := s.List(0)
	if len(snaps) != 0 {
		t.Errorf("List() after purge = %v, want empty", snaps)
	}
}
