// Package triage asks an external LLM whether a stalled agent is worth
// keeping alive.
//
// The verdict is advisory and intentionally crude: one bounded CLI call
// classified lexically, with every failure mode collapsing to extend,
// the verdict that changes nothing.
package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/util"
)

// Verdict is the triage outcome.
type Verdict string

const (
	VerdictRetry     Verdict = "retry"
	VerdictTerminate Verdict = "terminate"
	VerdictExtend    Verdict = "extend"
)

const (
	// tailLines bounds how much log context goes into the prompt.
	tailLines = 50
	// callTimeout bounds the LLM subprocess.
	callTimeout = 30 * time.Second
)

// Request carries the context for one triage call.
type Request struct {
	Agent        string
	LastActivity time.Time
	LogTail      string
}

// Triager runs triage calls against a configured external tool.
type Triager struct {
	Tool string
	Log  hclog.Logger

	// run is swapped in tests.
	run func(ctx context.Context, stdin, cmd string, args ...string) (string, error)
}

// New returns a Triager using tool, a command line split on spaces.
func New(tool string, log hclog.Logger) *Triager {
	return &Triager{
		Tool: tool,
		Log:  log,
		run: func(ctx context.Context, stdin, cmd string, args ...string) (string, error) {
			return util.ExecWithStdin(ctx, "", stdin, cmd, args...)
		},
	}
}

// Assess invokes the external tool and classifies its response. Any
// failure, a missing tool, a timeout, a non-zero exit, defaults to
// extend.
func (t *Triager) Assess(ctx context.Context, req Request) Verdict {
	if t.Tool == "" {
		t.Log.Debug("no triage tool configured", "agent", req.Agent)
		return VerdictExtend
	}

	prompt := buildPrompt(req)
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	parts := strings.Fields(t.Tool)
	out, err := t.run(ctx, prompt, parts[0], parts[1:]...)
	if err != nil {
		t.Log.Warn("triage call failed", "agent", req.Agent, "error", err)
		return VerdictExtend
	}

	verdict := Classify(out)
	t.Log.Info("triage verdict", "agent", req.Agent, "verdict", verdict)
	return verdict
}

// Classify maps a free-text response onto a verdict. Purely lexical:
// retry words win over terminate words, so a response framing a failure
// as recoverable keeps the agent alive; anything else extends.
func Classify(response string) Verdict {
	lower := strings.ToLower(response)
	switch {
	case strings.Contains(lower, "retry") ||
		strings.Contains(lower, "recoverable"):
		return VerdictRetry
	case strings.Contains(lower, "terminate") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "failed"):
		return VerdictTerminate
	default:
		return VerdictExtend
	}
}

// TailLines returns the last n lines of text.
func TailLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("An automated coding agent appears stalled. Decide its fate.\n")
	fmt.Fprintf(&sb, "Agent: %s\n", req.Agent)
	if !req.LastActivity.IsZero() {
		fmt.Fprintf(&sb, "Last activity: %s (%s ago)\n",
			req.LastActivity.Format(time.RFC3339),
			time.Since(req.LastActivity).Round(time.Second))
	}
	sb.WriteString("Respond with exactly one word: retry (recoverable, nudge it again), ")
	sb.WriteString("terminate (fatal, kill it), or extend (still working, give it time).\n")
	sb.WriteString("\nRecent session output:\n")
	sb.WriteString(TailLines(req.LogTail, tailLines))
	sb.WriteString("\n")
	return sb.String()
}
