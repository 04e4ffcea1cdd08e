package audit

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertMintsIDs(t *testing.T) {
	s := openTestStore(t)
	rec := &Record{Actor: "cli", Action: "spawn", Target: "builder-1"}
	if err := s.Insert(rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if !strings.HasPrefix(rec.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt zero, want stamped")
	}
}

func TestListFilters(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	records := []*Record{
		{Actor: "cli", Action: "spawn", Target: "builder-1", CreatedAt: base},
		{Actor: "autopilot", Action: "nudge", Target: "builder-1", CreatedAt: base.Add(time.Minute)},
		{Actor: "cli", Action: "kill", Target: "builder-1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := s.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.List(Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("List() = %d records, want 3", len(recs))
	}
	if recs[0].Action != "kill" {
		t.Errorf("first record = %q, want newest (kill)", recs[0].Action)
	}

	recs, _ = s.List(Filter{Actor: "cli"})
	if len(recs) != 2 {
		t.Errorf("List(actor=cli) = %d records, want 2", len(recs))
	}

	recs, _ = s.List(Filter{Actor: "cli", Action: "spawn"})
	if len(recs) != 1 || recs[0].Target != "builder-1" {
		t.Errorf("List(cli, spawn) = %v, want one spawn record", recs)
	}

	recs, _ = s.List(Filter{Limit: 1})
	if len(recs) != 1 {
		t.Errorf("List(limit=1) = %d records, want 1", len(recs))
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 2; i++ {
		if err := s.Insert(&Record{Actor: "cli", Action: "clean"}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Purge()
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}
}
