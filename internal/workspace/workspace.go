// Package workspace locates the Legio project root and its .legio layout.
//
// A project root is any directory containing a .legio directory. Discovery
// walks upward from the working directory, the same way git finds .git.
// The LEGIO_CWD environment variable overrides the starting directory so
// hook subprocesses invoked outside the project tree still resolve it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is the name of the per-project state directory.
const Dir = ".legio"

// ErrNotFound is returned when no .legio directory exists in any ancestor.
var ErrNotFound = fmt.Errorf("not inside a legio project (no %s directory found)", Dir)

// Find walks upward from start looking for a directory containing .legio.
// Returns the project root (the parent of .legio).
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving start dir: %w", err)
	}

	for {
		candidate := filepath.Join(dir, Dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// FindFromCwd locates the project root from the current working directory,
// honoring the LEGIO_CWD override.
func FindFromCwd() (string, error) {
	if override := os.Getenv("LEGIO_CWD"); override != "" {
		return Find(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return Find(cwd)
}

// Paths resolves the well-known file locations under a project root.
type Paths struct {
	Root string
}

// NewPaths returns the path set for a project root.
func NewPaths(root string) Paths {
	return Paths{Root: root}
}

// Legio returns the .legio directory itself.
func (p Paths) Legio() string { return filepath.Join(p.Root, Dir) }

// ConfigFile returns .legio/config.yaml.
func (p Paths) ConfigFile() string { return filepath.Join(p.Legio(), "config.yaml") }

// SessionsDB returns the session and run store database file.
func (p Paths) SessionsDB() string { return filepath.Join(p.Legio(), "sessions.db") }

// MailDB returns the mail store database file.
func (p Paths) MailDB() string { return filepath.Join(p.Legio(), "mail.db") }

// EventsDB returns the event store database file.
func (p Paths) EventsDB() string { return filepath.Join(p.Legio(), "events.db") }

// MergeQueueDB returns the merge queue database file.
func (p Paths) MergeQueueDB() string { return filepath.Join(p.Legio(), "merge-queue.db") }

// MetricsDB returns the metrics database file.
func (p Paths) MetricsDB() string { return filepath.Join(p.Legio(), "metrics.db") }

// AuditDB returns the audit database file.
func (p Paths) AuditDB() string { return filepath.Join(p.Legio(), "audit.db") }

// Worktrees returns the directory holding per-agent worktrees.
func (p Paths) Worktrees() string { return filepath.Join(p.Legio(), "worktrees") }

// Worktree returns the worktree directory for one agent.
func (p Paths) Worktree(agent string) string { return filepath.Join(p.Worktrees(), agent) }

// AgentDir returns .legio/agents/{name}.
func (p Paths) AgentDir(agent string) string {
	return filepath.Join(p.Legio(), "agents", agent)
}

// IdentityFile returns the agent's identity.yaml.
func (p Paths) IdentityFile(agent string) string {
	return filepath.Join(p.AgentDir(agent), "identity.yaml")
}

// CheckpointFile returns the agent's checkpoint.json.
func (p Paths) CheckpointFile(agent string) string {
	return filepath.Join(p.AgentDir(agent), "checkpoint.json")
}

// LogsDir returns the log root for one agent.
func (p Paths) LogsDir(agent string) string {
	return filepath.Join(p.Legio(), "logs", agent)
}

// AgentDefs returns the capability instruction template directory.
func (p Paths) AgentDefs() string { return filepath.Join(p.Legio(), "agent-defs") }

// OrchestratorTmuxFile returns the orchestrator session registration file.
func (p Paths) OrchestratorTmuxFile() string {
	return filepath.Join(p.Legio(), "orchestrator-tmux.json")
}

// SessionBranchFile returns the per-session merge target override file.
func (p Paths) SessionBranchFile() string {
	return filepath.Join(p.Legio(), "session-branch.txt")
}

// CurrentRunFile returns the active run id file.
func (p Paths) CurrentRunFile() string { return filepath.Join(p.Legio(), "current-run.txt") }

// NudgeStateFile returns the nudge debounce record file.
func (p Paths) NudgeStateFile() string { return filepath.Join(p.Legio(), "nudge-state.json") }

// PendingNudges returns the queued-nudge spool directory.
func (p Paths) PendingNudges() string { return filepath.Join(p.Legio(), "pending-nudges") }

// LegacySessionsFile returns the pre-sqlite sessions.json location.
// Read for backward compatibility only; never written.
func (p Paths) LegacySessionsFile() string { return filepath.Join(p.Legio(), "sessions.json") }

// ManifestFile returns the capability catalogue file.
func (p Paths) ManifestFile() string { return filepath.Join(p.Legio(), "agent-manifest.json") }

// IssuesFile returns the optional issue list file surfaced by the API.
func (p Paths) IssuesFile() string { return filepath.Join(p.Legio(), "issues.json") }

// StrategyFile returns the strategy proposal file.
func (p Paths) StrategyFile() string { return filepath.Join(p.Legio(), "strategy.json") }

// HooksFile returns the per-event command hook file.
func (p Paths) HooksFile() string { return filepath.Join(p.Legio(), "hooks.json") }

// PublicDir returns the static web bundle directory.
func (p Paths) PublicDir() string { return filepath.Join(p.Legio(), "public") }

// ServerFile returns the running server's pid and address record.
func (p Paths) ServerFile() string { return filepath.Join(p.Legio(), "server.json") }
