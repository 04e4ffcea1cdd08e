// Package state is the durable session and run store shared by the
// server process and ad-hoc CLI invocations.
package state

import (
	"time"
)

// Capability is the closed-set role tag for an agent.
type Capability string

const (
	CapScout       Capability = "scout"
	CapBuilder     Capability = "builder"
	CapReviewer    Capability = "reviewer"
	CapLead        Capability = "lead"
	CapMerger      Capability = "merger"
	CapCoordinator Capability = "coordinator"
	CapSupervisor  Capability = "supervisor"
	CapMonitor     Capability = "monitor"
)

// Capabilities lists every valid capability.
var Capabilities = []Capability{
	CapScout, CapBuilder, CapReviewer, CapLead,
	CapMerger, CapCoordinator, CapSupervisor, CapMonitor,
}

// Valid reports whether c is in the closed set.
func (c Capability) Valid() bool {
	for _, known := range Capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// SessionState is the lifecycle state of an agent session.
//
// There is no idle state: agents are spawned to work and torn down when
// done. Stalled and zombie are detected conditions; completed and zombie
// are terminal and never mutated except for historical reads.
type SessionState string

const (
	// StateBooting means the session was just spawned and has not yet
	// produced tool activity.
	StateBooting SessionState = "booting"

	// StateWorking means the session has shown tool activity.
	StateWorking SessionState = "working"

	// StateStalled means the session is live but silent beyond the stale
	// threshold. Set only by the watchdog.
	StateStalled SessionState = "stalled"

	// StateCompleted means the session ended cleanly with a session_end.
	StateCompleted SessionState = "completed"

	// StateZombie means the process died without emitting session_end.
	StateZombie SessionState = "zombie"
)

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateZombie
}

// Session is the identity of one running agent instance.
type Session struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Capability   Capability   `json:"capability"`
	Worktree     string       `json:"worktree"`
	Branch       string       `json:"branch"`
	TaskID       string       `json:"taskId"`
	TmuxSession  string       `json:"tmuxSession"`
	State        SessionState `json:"state"`
	Pid          int          `json:"pid"`
	Parent       string       `json:"parent,omitempty"`
	Depth        int          `json:"depth"`
	RunID        string       `json:"runId,omitempty"`
	Escalation   int          `json:"escalation"`
	StartedAt    time.Time    `json:"startedAt"`
	LastActivity time.Time    `json:"lastActivity"`
	StalledSince time.Time    `json:"stalledSince,omitempty"`
	StoppedAt    time.Time    `json:"stoppedAt,omitempty"`
}

// Active reports whether the session is in a non-terminal state.
func (s *Session) Active() bool {
	return !s.State.Terminal()
}

// RunStatus is the status of an orchestration run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Run is one orchestration episode rooted at a coordinator.
type Run struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt,omitempty"`
	CoordinatorID string    `json:"coordinatorId,omitempty"`
	Status        RunStatus `json:"status"`
}
