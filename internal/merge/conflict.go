package merge

import (
	"fmt"
	"strings"
)

// Hunk is one conflict region inside a file: the two sides plus the
// merge base when git emitted diff3-style markers.
type Hunk struct {
	Ours    []string
	Theirs  []string
	Base    []string
	HasBase bool
}

// segment is either plain context lines or one conflict hunk.
type segment struct {
	context []string
	hunk    *Hunk
}

// ConflictFile is a conflicted file split into context and hunks.
type ConflictFile struct {
	segments []segment
}

// Hunks returns the file's conflict hunks in order.
func (f *ConflictFile) Hunks() []*Hunk {
	var hunks []*Hunk
	for _, seg := range f.segments {
		if seg.hunk != nil {
			hunks = append(hunks, seg.hunk)
		}
	}
	return hunks
}

// ParseConflicts splits content carrying git conflict markers. Content
// without markers parses to a single context segment.
func ParseConflicts(content string) (*ConflictFile, error) {
	lines := strings.Split(content, "\n")
	file := &ConflictFile{}

	var context []string
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "<<<<<<<") {
			context = append(context, line)
			i++
			continue
		}

		if len(context) > 0 {
			file.segments = append(file.segments, segment{context: context})
			context = nil
		}

		hunk := &Hunk{}
		i++
		for i < len(lines) && !strings.HasPrefix(lines[i], "|||||||") && !strings.HasPrefix(lines[i], "=======") {
			hunk.Ours = append(hunk.Ours, lines[i])
			i++
		}
		if i < len(lines) && strings.HasPrefix(lines[i], "|||||||") {
			hunk.HasBase = true
			i++
			for i < len(lines) && !strings.HasPrefix(lines[i], "=======") {
				hunk.Base = append(hunk.Base, lines[i])
				i++
			}
		}
		if i >= len(lines) || !strings.HasPrefix(lines[i], "=======") {
			return nil, fmt.Errorf("unterminated conflict hunk (missing =======)")
		}
		i++
		for i < len(lines) && !strings.HasPrefix(lines[i], ">>>>>>>") {
			hunk.Theirs = append(hunk.Theirs, lines[i])
			i++
		}
		if i >= len(lines) {
			return nil, fmt.Errorf("unterminated conflict hunk (missing >>>>>>>)")
		}
		i++
		file.segments = append(file.segments, segment{hunk: hunk})
	}
	if len(context) > 0 {
		file.segments = append(file.segments, segment{context: context})
	}
	return file, nil
}

// ResolveDeterministic attempts the rule-based resolution of every hunk.
// It returns the resolved file body and true only when all hunks fall to
// one of the deterministic rules: identical both sides, whitespace-only
// divergence, or strict additions in disjoint regions.
func (f *ConflictFile) ResolveDeterministic() (string, bool) {
	var out []string
	for _, seg := range f.segments {
		if seg.hunk == nil {
			out = append(out, seg.context...)
			continue
		}
		resolved, ok := resolveHunk(seg.hunk)
		if !ok {
			return "", false
		}
		out = append(out, resolved...)
	}
	return strings.Join(out, "\n"), true
}

func resolveHunk(h *Hunk) ([]string, bool) {
	if equalLines(h.Ours, h.Theirs) {
		return h.Ours, true
	}
	if equalNormalized(h.Ours, h.Theirs) {
		// Whitespace-only divergence: keep the incoming side.
		return h.Theirs, true
	}
	// Strict additions: both sides added against an empty base, or one
	// side added against nothing at all. Kept only when the regions are
	// disjoint, which an empty base guarantees.
	if h.HasBase && len(h.Base) == 0 {
		return append(append([]string{}, h.Ours...), h.Theirs...), true
	}
	if !h.HasBase {
		if len(h.Ours) == 0 {
			return h.Theirs, true
		}
		if len(h.Theirs) == 0 {
			return h.Ours, true
		}
	}
	return nil, false
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalNormalized(a, b []string) bool {
	return normalize(a) == normalize(b)
}

// normalize collapses all whitespace so indentation and spacing changes
// compare equal.
func normalize(lines []string) string {
	var sb strings.Builder
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		sb.WriteString(strings.Join(fields, " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
