package eventlog

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insert(t *testing.T, s *Store, e *Event) *Event {
	t.Helper()
	if err := s.Insert(e); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return e
}

func TestInsertDefaults(t *testing.T) {
	s := openTestStore(t)
	e := insert(t, s, &Event{Agent: "builder-1", Type: TypeToolStart, Tool: "Edit"})
	if e.ID == 0 {
		t.Error("ID = 0, want assigned")
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp is zero, want stamped")
	}
	if e.Level != LevelInfo {
		t.Errorf("Level = %q, want %q", e.Level, LevelInfo)
	}
}

func TestTimelineAscending(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Minute)
	for i, tool := range []string{"Read", "Edit", "Bash"} {
		insert(t, s, &Event{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Agent:     "builder-1",
			Type:      TypeToolStart,
			Tool:      tool,
		})
	}

	events, err := s.Timeline(Query{})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Timeline() = %d events, want 3", len(events))
	}
	if events[0].Tool != "Read" || events[2].Tool != "Bash" {
		t.Errorf("Timeline() order = [%s %s %s], want [Read Edit Bash]",
			events[0].Tool, events[1].Tool, events[2].Tool)
	}
}

func TestQueryBounds(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		insert(t, s, &Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Agent:     "scout-1",
			Type:      TypeCustom,
		})
	}

	got, err := s.ByAgent("scout-1", Query{Since: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("ByAgent() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("ByAgent(Since) = %d events, want 3", len(got))
	}

	got, err = s.ByAgent("scout-1", Query{Until: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("ByAgent() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ByAgent(Until) = %d events, want 2", len(got))
	}

	got, err = s.ByAgent("scout-1", Query{Limit: 2})
	if err != nil {
		t.Fatalf("ByAgent() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ByAgent(Limit) = %d events, want 2", len(got))
	}
}

func TestQueryLevelFilter(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, &Event{Agent: "a", Type: TypeCustom, Level: LevelInfo})
	insert(t, s, &Event{Agent: "a", Type: TypeError, Level: LevelError})

	got, err := s.Timeline(Query{Level: LevelError})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != TypeError {
		t.Errorf("Timeline(Level: error) = %v, want one error event", got)
	}
}

func TestByRunAndErrors(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, &Event{RunID: "run-1", Agent: "a", Type: TypeSessionStart})
	insert(t, s, &Event{RunID: "run-1", Agent: "a", Type: TypeError, Level: LevelError})
	insert(t, s, &Event{RunID: "run-2", Agent: "b", Type: TypeSessionStart})

	run, err := s.ByRun("run-1", Query{})
	if err != nil {
		t.Fatalf("ByRun() error = %v", err)
	}
	if len(run) != 2 {
		t.Errorf("ByRun() = %d events, want 2", len(run))
	}

	errsOnly, err := s.Errors(Query{})
	if err != nil {
		t.Fatalf("Errors() error = %v", err)
	}
	if len(errsOnly) != 1 || errsOnly[0].RunID != "run-1" {
		t.Errorf("Errors() = %v, want the run-1 error", errsOnly)
	}
}

func TestToolStats(t *testing.T) {
	s := openTestStore(t)
	durations := map[string][]int64{
		"Edit": {100, 300},
		"Bash": {50},
	}
	for tool, ds := range durations {
		for _, d := range ds {
			insert(t, s, &Event{Agent: "builder-1", Type: TypeToolEnd, Tool: tool, DurationMs: d})
		}
	}
	// tool_start events do not count.
	insert(t, s, &Event{Agent: "builder-1", Type: TypeToolStart, Tool: "Edit"})
	// Other agents excluded when filtered.
	insert(t, s, &Event{Agent: "scout-1", Type: TypeToolEnd, Tool: "Edit", DurationMs: 999})

	stats, err := s.ToolStats("builder-1", time.Time{})
	if err != nil {
		t.Fatalf("ToolStats() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("ToolStats() = %d tools, want 2", len(stats))
	}
	// Ordered by count descending.
	if stats[0].Tool != "Edit" {
		t.Errorf("stats[0].Tool = %q, want Edit", stats[0].Tool)
	}
	if stats[0].Count != 2 {
		t.Errorf("Edit count = %d, want 2", stats[0].Count)
	}
	if stats[0].AvgMs != 200 {
		t.Errorf("Edit avg = %v, want 200", stats[0].AvgMs)
	}
	if stats[0].MaxMs != 300 {
		t.Errorf("Edit max = %d, want 300", stats[0].MaxMs)
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, &Event{Agent: "a", Type: TypeCustom})
	insert(t, s, &Event{Agent: "b", Type: TypeCustom})

	n, err := s.Purge()
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}
	events, err := s.Timeline(Query{})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Timeline() after purge = %d events, want 0", len(events))
	}
}
