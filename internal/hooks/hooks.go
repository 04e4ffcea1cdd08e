// Package hooks implements the agent-runtime hook protocol: lifecycle
// callbacks arriving as JSON on stdin, answered with an optional
// decision on stdout.
//
// Hook invocations must never break the agent: every failure path exits
// zero and only an explicit block changes tool behavior.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/workspace"
)

// Hook event names, as the agent runtime spells them.
const (
	EventSessionStart     = "SessionStart"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventPreToolUse       = "PreToolUse"
	EventPostToolUse      = "PostToolUse"
	EventStop             = "Stop"
	EventPreCompact       = "PreCompact"
)

// Input is the hook payload read from stdin. Fields beyond these are
// ignored.
type Input struct {
	SessionID string          `json:"session_id"`
	EventName string          `json:"hook_event_name"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	Cwd       string          `json:"cwd"`
}

// bashInput is the tool_input shape for the Bash tool.
type bashInput struct {
	Command string `json:"command"`
}

// Decision is the stdout answer. A zero Decision means "allow" and is
// not emitted.
type Decision struct {
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ReadInput consumes the whole of r and parses the hook payload. The
// runtime may deliver the JSON in multiple chunks, so read to EOF
// before decoding.
func ReadInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading hook input: %w", err)
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parsing hook input: %w", err)
	}
	return &in, nil
}

// gitGuards are the git invocations agents may not run. History
// rewriting and force operations belong to the merge pipeline and the
// operator, never to an agent inside a worktree.
var gitGuards = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`git\s+push\s+(\S+\s+)*(--force|-f)\b`), "force push is not allowed from an agent worktree"},
	{regexp.MustCompile(`git\s+push\s+.*--delete`), "deleting remote branches is not allowed from an agent worktree"},
	{regexp.MustCompile(`git\s+reset\s+--hard\s+origin/`), "hard reset to a remote ref discards shared history"},
	{regexp.MustCompile(`git\s+rebase\b`), "rebasing is not allowed; merges are handled by the merge pipeline"},
	{regexp.MustCompile(`git\s+branch\s+(-D|-d)\s+(?:main|master)\b`), "the canonical branch may not be deleted"},
	{regexp.MustCompile(`git\s+checkout\s+(?:main|master)\b`), "agents work on their own branch; do not check out the canonical branch"},
	{regexp.MustCompile(`git\s+worktree\s+remove`), "worktree removal belongs to the lifecycle engine"},
	{regexp.MustCompile(`git\s+clean\s+.*-[a-z]*x`), "git clean -x would delete untracked state files"},
}

// GuardBash inspects a Bash command about to run and returns a block
// decision for dangerous git operations, or nil to allow.
func GuardBash(command string) *Decision {
	normalized := strings.Join(strings.Fields(command), " ")
	for _, guard := range gitGuards {
		if guard.pattern.MatchString(normalized) {
			return &Decision{Decision: "block", Reason: guard.reason}
		}
	}
	return nil
}

// Processor applies hook events to the stores. Its methods never return
// errors for store trouble; hook handling is best-effort by contract.
type Processor struct {
	Paths workspace.Paths
	// Agent is the agent name, derived from the worktree directory when
	// the hook runs inside one.
	Agent string
}

// AgentFromCwd derives the agent name for a hook invocation: worktrees
// are laid out as .legio/worktrees/{agent}, so the path component after
// the worktrees directory names the agent. Outside a worktree the
// result is empty.
func AgentFromCwd(paths workspace.Paths, cwd string) string {
	rel, err := filepath.Rel(paths.Worktrees(), cwd)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) == 0 || parts[0] == "." {
		return ""
	}
	return parts[0]
}

// Apply handles one hook event: records the matching store event and
// keeps the session's activity fresh. Returns a decision only for a
// blocked tool.
func (p *Processor) Apply(in *Input) *Decision {
	var decision *Decision
	if in.EventName == EventPreToolUse && in.ToolName == "Bash" {
		var bi bashInput
		if json.Unmarshal(in.ToolInput, &bi) == nil {
			decision = GuardBash(bi.Command)
		}
	}

	p.recordEvent(in, decision)
	p.touchSession(in)
	return decision
}

func (p *Processor) recordEvent(in *Input, decision *Decision) {
	store, err := eventlog.Open(p.Paths.EventsDB())
	if err != nil {
		return
	}
	defer store.Close()

	event := &eventlog.Event{Agent: p.Agent, SessionID: in.SessionID}
	switch in.EventName {
	case EventSessionStart:
		event.Type = eventlog.TypeSessionStart
	case EventStop:
		event.Type = eventlog.TypeSessionEnd
		event.Data = `{"reason":"stop"}`
	case EventPreToolUse:
		event.Type = eventlog.TypeToolStart
		event.Tool = in.ToolName
		event.ToolArgs = string(in.ToolInput)
		if decision != nil {
			data, _ := json.Marshal(decision)
			event.Data = string(data)
			event.Level = eventlog.LevelWarn
		}
	case EventPostToolUse:
		event.Type = eventlog.TypeToolEnd
		event.Tool = in.ToolName
		event.ToolArgs = string(in.ToolInput)
	default:
		event.Type = eventlog.TypeCustom
		data, _ := json.Marshal(map[string]string{"hook": in.EventName})
		event.Data = string(data)
	}
	_ = store.Insert(event)
}

// touchSession keeps liveness current and applies the lifecycle
// transitions hooks are allowed to make: activity promotes booting to
// working, and a Stop marks the session completed.
func (p *Processor) touchSession(in *Input) {
	if p.Agent == "" {
		return
	}
	store, err := state.Open(p.Paths.SessionsDB())
	if err != nil {
		return
	}
	defer store.Close()

	sess, err := store.ByName(p.Agent)
	if err != nil {
		return
	}
	if in.EventName == EventStop {
		_ = store.MarkEnded(sess.ID, state.StateCompleted, time.Now())
		return
	}
	_ = store.Touch(sess.ID, time.Now())
}
