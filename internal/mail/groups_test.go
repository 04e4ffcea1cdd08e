package mail

import (
	"testing"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/state"
)

func testSessions() []*state.Session {
	return []*state.Session{
		{Name: "coordinator-1", Capability: state.CapCoordinator},
		{Name: "builder-1", Capability: state.CapBuilder},
		{Name: "builder-2", Capability: state.CapBuilder},
		{Name: "scout-1", Capability: state.CapScout},
	}
}

func TestIsGroupAddress(t *testing.T) {
	tests := []struct {
		to   string
		want bool
	}{
		{"@all", true},
		{"@builders", true},
		{"builder-1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsGroupAddress(tt.to); got != tt.want {
			t.Errorf("IsGroupAddress(%q) = %v, want %v", tt.to, got, tt.want)
		}
	}
}

func TestResolveGroup(t *testing.T) {
	tests := []struct {
		name    string
		address string
		sender  string
		want    []string
		wantErr bool
	}{
		{"all excludes sender", "@all", "builder-1", []string{"coordinator-1", "builder-2", "scout-1"}, false},
		{"capability singular", "@builder", "coordinator-1", []string{"builder-1", "builder-2"}, false},
		{"capability plural", "@builders", "coordinator-1", []string{"builder-1", "builder-2"}, false},
		{"unknown group", "@plumbers", "coordinator-1", nil, true},
		{"not a group", "builder-1", "coordinator-1", nil, true},
		{"zero recipients", "@scout", "scout-1", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveGroup(tt.address, tt.sender, testSessions())
			if tt.wantErr {
				if !errs.IsValidation(err) {
					t.Fatalf("ResolveGroup() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveGroup() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ResolveGroup() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("recipient[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolveGroupDeduplicates(t *testing.T) {
	sessions := append(testSessions(), &state.Session{Name: "builder-1", Capability: state.CapBuilder})
	got, err := ResolveGroup("@builders", "coordinator-1", sessions)
	if err != nil {
		t.Fatalf("ResolveGroup() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ResolveGroup() = %v, want 2 unique recipients", got)
	}
}

func TestExpandBroadcast(t *testing.T) {
	m := NewMessage("coordinator-1", "@builders", "standup", "report in")
	msgs, err := ExpandBroadcast(m, testSessions())
	if err != nil {
		t.Fatalf("ExpandBroadcast() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ExpandBroadcast() = %d messages, want 2", len(msgs))
	}

	thread := msgs[0].ThreadID
	if thread == "" {
		t.Fatal("ThreadID empty, want minted")
	}
	for _, out := range msgs {
		if out.ThreadID != thread {
			t.Errorf("ThreadID = %q, want shared %q", out.ThreadID, thread)
		}
		if out.Subject != "standup" || out.Body != "report in" {
			t.Errorf("message %v lost subject/body", out.To)
		}
		if IsGroupAddress(out.To) {
			t.Errorf("To = %q, want individual agent", out.To)
		}
		if out.ID != "" {
			t.Errorf("ID = %q, want empty before insert", out.ID)
		}
	}
}

func TestExpandBroadcastKeepsThread(t *testing.T) {
	m := NewMessage("coordinator-1", "@all", "s", "b")
	m.ThreadID = "thread-fixed"
	msgs, err := ExpandBroadcast(m, testSessions())
	if err != nil {
		t.Fatalf("ExpandBroadcast() error = %v", err)
	}
	for _, out := range msgs {
		if out.ThreadID != "thread-fixed" {
			t.Errorf("ThreadID = %q, want thread-fixed", out.ThreadID)
		}
	}
}
