package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     Verdict
	}{
		{"plain terminate", "terminate", VerdictTerminate},
		{"fatal wording", "This looks FATAL, give up.", VerdictTerminate},
		{"failed wording", "the build failed repeatedly", VerdictTerminate},
		{"plain retry", "retry", VerdictRetry},
		{"recoverable wording", "Recoverable, nudge it.", VerdictRetry},
		{"retry beats terminate", "retry, the build failed but looks transient", VerdictRetry},
		{"plain extend", "extend", VerdictExtend},
		{"unrecognized", "hmm, unclear", VerdictExtend},
		{"empty", "", VerdictExtend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.response); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.response, got, tt.want)
			}
		})
	}
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want string
	}{
		{"shorter than n", "a\nb\n", 5, "a\nb"},
		{"exactly n", "a\nb\nc", 3, "a\nb\nc"},
		{"truncates to last n", "a\nb\nc\nd", 2, "c\nd"},
		{"single line", "only", 10, "only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TailLines(tt.text, tt.n); got != tt.want {
				t.Errorf("TailLines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssessNoTool(t *testing.T) {
	tr := New("", hclog.NewNullLogger())
	if got := tr.Assess(context.Background(), Request{Agent: "scout-1"}); got != VerdictExtend {
		t.Errorf("Assess() = %q, want %q", got, VerdictExtend)
	}
}

func TestAssessToolFailure(t *testing.T) {
	tr := New("llm --oneshot", hclog.NewNullLogger())
	tr.run = func(ctx context.Context, stdin, cmd string, args ...string) (string, error) {
		return "", errors.New("exec: not found")
	}
	if got := tr.Assess(context.Background(), Request{Agent: "scout-1"}); got != VerdictExtend {
		t.Errorf("Assess() = %q, want %q", got, VerdictExtend)
	}
}

func TestAssessPassesPromptAndTool(t *testing.T) {
	tr := New("llm --oneshot", hclog.NewNullLogger())

	var gotCmd string
	var gotArgs []string
	var gotStdin string
	tr.run = func(ctx context.Context, stdin, cmd string, args ...string) (string, error) {
		gotCmd, gotArgs, gotStdin = cmd, args, stdin
		return "terminate", nil
	}

	verdict := tr.Assess(context.Background(), Request{Agent: "builder-2", LogTail: "panic: boom"})
	if verdict != VerdictTerminate {
		t.Errorf("Assess() = %q, want %q", verdict, VerdictTerminate)
	}
	if gotCmd != "llm" {
		t.Errorf("cmd = %q, want %q", gotCmd, "llm")
	}
	if len(gotArgs) != 1 || gotArgs[0] != "--oneshot" {
		t.Errorf("args = %v, want [--oneshot]", gotArgs)
	}
	if !strings.Contains(gotStdin, "builder-2") {
		t.Errorf("prompt missing agent name: %q", gotStdin)
	}
	if !strings.Contains(gotStdin, "panic: boom") {
		t.Errorf("prompt missing log tail: %q", gotStdin)
	}
}
