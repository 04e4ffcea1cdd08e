// Package tmux adapts the terminal multiplexer: named sessions hosting
// interactive agent processes.
//
// Read operations treat a missing session as an empty result, not an
// error. Creation of a duplicate name fails fast. All command failures
// carry the session name for diagnostics.
package tmux

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/proc"
	"github.com/legio-dev/legio/internal/util"
)

// SessionPrefix is the common prefix for Legio tmux sessions.
const SessionPrefix = "legio-"

// SessionName returns the tmux session name for an agent:
// legio-{project}-{agent}.
func SessionName(project, agent string) string {
	return fmt.Sprintf("%s%s-%s", SessionPrefix, project, agent)
}

// Session describes one live tmux session.
type Session struct {
	Name string `json:"name"`
	Pid  int    `json:"pid"`
}

// Tmux wraps the tmux binary. The zero value is usable; KillGrace
// defaults to 3 seconds when unset.
type Tmux struct {
	// KillGrace is the wait between SIGTERM and SIGKILL during tree kill.
	KillGrace time.Duration
}

// New returns a Tmux adapter with the default kill grace.
func New() *Tmux {
	return &Tmux{KillGrace: 3 * time.Second}
}

func (t *Tmux) grace() time.Duration {
	if t.KillGrace > 0 {
		return t.KillGrace
	}
	return 3 * time.Second
}

// CreateSession starts a detached session named name, running command in
// cwd, and returns the root pid of its primary pane.
func (t *Tmux) CreateSession(name, cwd, command string) (int, error) {
	if t.HasSession(name) {
		return 0, errs.Agentf(name, "tmux session already exists")
	}

	args := []string{"new-session", "-d", "-s", name, "-c", cwd}
	if command != "" {
		args = append(args, command)
	}
	if err := util.ExecRun("", "tmux", args...); err != nil {
		return 0, errs.Agentf(name, "creating tmux session: %v", err)
	}

	pid, err := t.PanePid(name)
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// HasSession reports whether a session with exactly this name exists.
// tmux matches names by prefix, so has-session alone would report
// legio-p-a as present when only legio-p-a2 is running; the exact-match
// filter avoids that.
func (t *Tmux) HasSession(name string) bool {
	sessions, err := t.ListSessions()
	if err != nil {
		return false
	}
	for _, s := range sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// ListSessions enumerates all Legio sessions with their pane root pids.
// No server running is an empty result.
func (t *Tmux) ListSessions() ([]Session, error) {
	out, err := util.ExecWithOutput("", "tmux", "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// tmux exits non-zero when no server is running.
		return nil, nil
	}

	var sessions []Session
	for _, name := range strings.Split(out, "\n") {
		name = strings.TrimSpace(name)
		if name == "" || !strings.HasPrefix(name, SessionPrefix) {
			continue
		}
		pid, _ := t.PanePid(name)
		sessions = append(sessions, Session{Name: name, Pid: pid})
	}
	return sessions, nil
}

// PanePid returns the root pid of the session's primary pane.
func (t *Tmux) PanePid(name string) (int, error) {
	out, err := util.ExecWithOutput("", "tmux", "list-panes", "-t", name, "-F", "#{pane_pid}")
	if err != nil {
		return 0, errs.Agentf(name, "resolving pane pid: %v", err)
	}
	first := strings.SplitN(strings.TrimSpace(out), "\n", 2)[0]
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, errs.Agentf(name, "parsing pane pid %q: %v", first, err)
	}
	return pid, nil
}

// FlattenKeys collapses embedded newlines into spaces. TUI clients treat
// a raw Enter mid-text as a line split, so multi-line nudges must arrive
// as a single line followed by one explicit submit.
func FlattenKeys(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.Join(strings.Fields(text), " ")
}

// SendKeys delivers text into the session followed by an explicit submit
// key. The text is sent literally (-l) so tmux does not interpret key
// names inside it.
func (t *Tmux) SendKeys(name, text string) error {
	flat := FlattenKeys(text)
	if flat != "" {
		if err := util.ExecRun("", "tmux", "send-keys", "-t", name, "-l", flat); err != nil {
			return errs.Agentf(name, "sending keys: %v", err)
		}
	}
	if err := util.ExecRun("", "tmux", "send-keys", "-t", name, "Enter"); err != nil {
		return errs.Agentf(name, "sending submit: %v", err)
	}
	return nil
}

// SendSubmit sends a bare submit key. Interactive LLM clients sometimes
// swallow the first Enter during a re-render; callers follow SendKeys
// with a short delay and this empty resubmit.
func (t *Tmux) SendSubmit(name string) error {
	if err := util.ExecRun("", "tmux", "send-keys", "-t", name, "Enter"); err != nil {
		return errs.Agentf(name, "sending resubmit: %v", err)
	}
	return nil
}

// Capture returns the last lines of the session's pane content. A missing
// session captures as empty.
func (t *Tmux) Capture(name string, lines int) (string, error) {
	if !t.HasSession(name) {
		return "", nil
	}
	if lines <= 0 {
		lines = 50
	}
	out, err := util.ExecWithOutput("", "tmux", "capture-pane", "-t", name, "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", errs.Agentf(name, "capturing pane: %v", err)
	}
	return out, nil
}

// KillSession terminates the session's whole process tree, then removes
// the tmux session. Killing an absent session is a no-op.
func (t *Tmux) KillSession(name string) error {
	if !t.HasSession(name) {
		return nil
	}

	if pid, err := t.PanePid(name); err == nil && pid > 0 {
		proc.KillTree(pid, t.grace())
	}

	if err := util.ExecRun("", "tmux", "kill-session", "-t", name); err != nil {
		// The session may have died with its tree.
		if t.HasSession(name) {
			return errs.Agentf(name, "killing tmux session: %v", err)
		}
	}
	return nil
}
