package merge

import (
	"strings"
	"testing"
)

func conflictBody(ours, base, theirs string) string {
	var sb strings.Builder
	sb.WriteString("<<<<<<< HEAD\n")
	sb.WriteString(ours)
	if base != "" {
		sb.WriteString("||||||| merged common ancestors\n")
		sb.WriteString(base)
	}
	sb.WriteString("=======\n")
	sb.WriteString(theirs)
	sb.WriteString(">>>>>>> feature\n")
	return sb.String()
}

func TestParseConflictsNoMarkers(t *testing.T) {
	file, err := ParseConflicts("line one\nline two\n")
	if err != nil {
		t.Fatalf("ParseConflicts() error = %v", err)
	}
	if got := len(file.Hunks()); got != 0 {
		t.Errorf("Hunks() = %d, want 0", got)
	}
}

func TestParseConflictsSingleHunk(t *testing.T) {
	content := "before\n" + conflictBody("ours\n", "", "theirs\n") + "after\n"
	file, err := ParseConflicts(content)
	if err != nil {
		t.Fatalf("ParseConflicts() error = %v", err)
	}
	hunks := file.Hunks()
	if len(hunks) != 1 {
		t.Fatalf("Hunks() = %d, want 1", len(hunks))
	}
	h := hunks[0]
	if len(h.Ours) != 1 || h.Ours[0] != "ours" {
		t.Errorf("Ours = %v, want [ours]", h.Ours)
	}
	if len(h.Theirs) != 1 || h.Theirs[0] != "theirs" {
		t.Errorf("Theirs = %v, want [theirs]", h.Theirs)
	}
	if h.HasBase {
		t.Error("HasBase = true, want false")
	}
}

func TestParseConflictsDiff3Base(t *testing.T) {
	content := conflictBody("a\n", "orig\n", "b\n")
	file, err := ParseConflicts(content)
	if err != nil {
		t.Fatalf("ParseConflicts() error = %v", err)
	}
	h := file.Hunks()[0]
	if !h.HasBase {
		t.Fatal("HasBase = false, want true")
	}
	if len(h.Base) != 1 || h.Base[0] != "orig" {
		t.Errorf("Base = %v, want [orig]", h.Base)
	}
}

func TestParseConflictsUnterminated(t *testing.T) {
	for _, content := range []string{
		"<<<<<<< HEAD\nours\n",
		"<<<<<<< HEAD\nours\n=======\ntheirs\n",
	} {
		if _, err := ParseConflicts(content); err == nil {
			t.Errorf("ParseConflicts(%q) error = nil, want error", content)
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	tests := []struct {
		name   string
		ours   string
		base   string
		theirs string
		want   string
		wantOK bool
	}{
		{
			name:   "identical sides",
			ours:   "same\n",
			theirs: "same\n",
			want:   "same",
			wantOK: true,
		},
		{
			name:   "whitespace only keeps theirs",
			ours:   "x :=  1\n",
			theirs: "x := 1\n",
			want:   "x := 1",
			wantOK: true,
		},
		{
			name:   "both sides nonempty without base fails",
			ours:   "alpha\n",
			theirs: "beta\n",
			wantOK: false,
		},
		{
			name:   "ours empty keeps theirs",
			ours:   "",
			theirs: "added\n",
			want:   "added",
			wantOK: true,
		},
		{
			name:   "real divergence fails",
			ours:   "return 1\n",
			theirs: "return 2\n",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := ParseConflicts(conflictBody(tt.ours, tt.base, tt.theirs))
			if err != nil {
				t.Fatalf("ParseConflicts() error = %v", err)
			}
			got, ok := file.ResolveDeterministic()
			if ok != tt.wantOK {
				t.Fatalf("ResolveDeterministic() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && strings.TrimRight(got, "\n") != tt.want {
				t.Errorf("ResolveDeterministic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveDeterministicEmptyBaseMerges(t *testing.T) {
	content := "<<<<<<< HEAD\nalpha\n||||||| merged common ancestors\n=======\nbeta\n>>>>>>> feature\n"
	file, err := ParseConflicts(content)
	if err != nil {
		t.Fatalf("ParseConflicts() error = %v", err)
	}
	got, ok := file.ResolveDeterministic()
	if !ok {
		t.Fatal("ResolveDeterministic() ok = false, want true")
	}
	if !strings.Contains(got, "alpha") || !strings.Contains(got, "beta") {
		t.Errorf("ResolveDeterministic() = %q, want both sides kept", got)
	}
}

func TestResolveDeterministicPreservesContext(t *testing.T) {
	content := "head\n" + conflictBody("same\n", "", "same\n") + "tail\n"
	file, err := ParseConflicts(content)
	if err != nil {
		t.Fatalf("ParseConflicts() error = %v", err)
	}
	got, ok := file.ResolveDeterministic()
	if !ok {
		t.Fatal("ResolveDeterministic() ok = false, want true")
	}
	want := "head\nsame\ntail\n"
	if got != want {
		t.Errorf("ResolveDeterministic() = %q, want %q", got, want)
	}
}
