// Package lifecycle creates and destroys agents: worktree, overlay,
// session record, terminal session, activation beacon.
//
// Only this package sets up or tears down the per-agent resources;
// agents never destroy themselves and the watchdog never cleans up.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/overlay"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/workspace"
	"github.com/legio-dev/legio/internal/worktree"
)

// Engine owns agent creation and destruction.
type Engine struct {
	Cfg       *config.Config
	Paths     workspace.Paths
	Sessions  *state.Store
	Worktrees *worktree.Manager
	Tmux      *tmux.Tmux
	Events    *eventlog.Store
	Log       hclog.Logger

	mu        sync.Mutex
	lastSpawn time.Time

	sleep func(time.Duration)
}

// New wires an Engine.
func New(cfg *config.Config, paths workspace.Paths, sessions *state.Store, worktrees *worktree.Manager, t *tmux.Tmux, events *eventlog.Store, log hclog.Logger) *Engine {
	return &Engine{
		Cfg:       cfg,
		Paths:     paths,
		Sessions:  sessions,
		Worktrees: worktrees,
		Tmux:      t,
		Events:    events,
		Log:       log,
		sleep:     time.Sleep,
	}
}

// SpawnRequest describes one agent to create.
type SpawnRequest struct {
	Capability state.Capability
	Task       string
	Parent     string
	// FileScope lists paths the agent exclusively owns.
	FileScope []string
}

// Spawn creates an agent end to end and returns its session record.
// Failures after worktree creation roll the worktree and branch back
// best-effort.
func (e *Engine) Spawn(req SpawnRequest) (*state.Session, error) {
	if !req.Capability.Valid() {
		return nil, errs.Validationf("unknown capability %q", req.Capability)
	}
	if req.Task == "" {
		return nil, errs.Validationf("task id required")
	}

	depth := 0
	if req.Parent != "" {
		parent, err := e.Sessions.ByName(req.Parent)
		if err != nil {
			if errs.IsNotFound(err) {
				return nil, errs.Validationf("parent agent %s has no session", req.Parent)
			}
			return nil, err
		}
		if !parent.Active() {
			return nil, errs.Validationf("parent agent %s is not active", req.Parent)
		}
		depth = parent.Depth + 1

		children, err := e.Sessions.ChildrenOf(parent.Name)
		if err != nil {
			return nil, err
		}
		live := 0
		for _, c := range children {
			if c.Active() {
				live++
			}
		}
		if live >= e.Cfg.Agents.MaxChildren {
			return nil, errs.Validationf("parent %s already has %d active children (max %d)",
				parent.Name, live, e.Cfg.Agents.MaxChildren)
		}
	}
	if depth >= e.Cfg.Agents.MaxDepth {
		return nil, errs.Validationf("depth %d exceeds max depth %d", depth, e.Cfg.Agents.MaxDepth)
	}

	e.stagger()

	agent, err := e.mintName(req.Capability)
	if err != nil {
		return nil, err
	}
	log := e.Log.With("agent", agent, "task", req.Task)

	branch := worktree.BranchName(agent, req.Task)
	wtPath := e.Paths.Worktree(agent)
	base := e.baseBranch()
	if err := e.Worktrees.Create(wtPath, branch, base); err != nil {
		return nil, errs.Agentf(agent, "creating worktree: %v", err)
	}

	sess, err := e.provision(req, agent, branch, wtPath, depth)
	if err != nil {
		log.Error("spawn failed, rolling back", "error", err)
		e.rollback(agent, wtPath, branch, sess)
		return nil, err
	}

	log.Info("agent spawned", "session", sess.ID, "depth", depth)
	return sess, nil
}

// provision runs the steps that follow worktree creation. Split out so
// Spawn can roll back on any failure here.
func (e *Engine) provision(req SpawnRequest, agent, branch, wtPath string, depth int) (*state.Session, error) {
	ov := &overlay.Overlay{
		Agent:        agent,
		Capability:   req.Capability,
		TaskID:       req.Task,
		Parent:       req.Parent,
		Depth:        depth,
		Branch:       branch,
		FileScope:    req.FileScope,
		Instructions: e.capabilityInstructions(req.Capability),
	}
	if err := ov.Write(wtPath); err != nil {
		return nil, errs.Agentf(agent, "writing overlay: %v", err)
	}

	identity, err := overlay.LoadIdentity(e.Paths.IdentityFile(agent), agent)
	if err != nil {
		return nil, errs.Agentf(agent, "loading identity: %v", err)
	}
	identity.Capability = req.Capability
	identity.RecordTask(req.Task)
	if err := identity.Save(e.Paths.IdentityFile(agent)); err != nil {
		return nil, errs.Agentf(agent, "saving identity: %v", err)
	}

	now := time.Now()
	sess := &state.Session{
		ID:           "sess-" + uuid.NewString()[:8],
		Name:         agent,
		Capability:   req.Capability,
		Worktree:     wtPath,
		Branch:       branch,
		TaskID:       req.Task,
		State:        state.StateBooting,
		Parent:       req.Parent,
		Depth:        depth,
		StartedAt:    now,
		LastActivity: now,
	}
	if run, err := e.Sessions.ActiveRun(); err == nil {
		sess.RunID = run.ID
	}
	if err := e.Sessions.Upsert(sess); err != nil {
		return nil, errs.Agentf(agent, "recording session: %v", err)
	}

	tmuxName := tmux.SessionName(e.Cfg.Project.Name, agent)
	pid, err := e.Tmux.CreateSession(tmuxName, wtPath, e.Cfg.Models.AgentCommand)
	if err != nil {
		return sess, err
	}
	sess.TmuxSession = tmuxName
	sess.Pid = pid
	if err := e.Sessions.Upsert(sess); err != nil {
		return sess, errs.Agentf(agent, "recording tmux session: %v", err)
	}

	// Give the interactive client time to draw before the beacon, and
	// follow up with an empty resubmit in case it swallowed the Enter.
	e.sleep(time.Duration(e.Cfg.Agents.BeaconDelayMs) * time.Millisecond)
	if err := e.Tmux.SendKeys(tmuxName, ov.Beacon()); err != nil {
		return sess, err
	}
	e.sleep(500 * time.Millisecond)
	_ = e.Tmux.SendSubmit(tmuxName)

	e.emit(sess, eventlog.TypeSessionStart, "")
	return sess, nil
}

// Terminate ends an agent deliberately: kill the terminal tree, mark
// the session completed, bump the identity counter, and clean the
// worktree when configured to.
func (e *Engine) Terminate(agent string) error {
	sess, err := e.Sessions.ByName(agent)
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return errs.Validationf("agent %s is already %s", agent, sess.State)
	}

	if sess.TmuxSession != "" {
		if err := e.Tmux.KillSession(sess.TmuxSession); err != nil {
			e.Log.Warn("killing tmux session failed", "agent", agent, "error", err)
		}
	}
	if err := e.Sessions.MarkEnded(sess.ID, state.StateCompleted, time.Now()); err != nil {
		return err
	}
	e.emit(sess, eventlog.TypeSessionEnd, `{"reason":"terminate"}`)

	if identity, err := overlay.LoadIdentity(e.Paths.IdentityFile(agent), agent); err == nil {
		identity.SessionsCompleted++
		if err := identity.Save(e.Paths.IdentityFile(agent)); err != nil {
			e.Log.Warn("updating identity failed", "agent", agent, "error", err)
		}
	}

	if e.Cfg.Worktrees.AutoClean {
		e.removeWorktree(sess)
	}
	e.Log.Info("agent terminated", "agent", agent, "session", sess.ID)
	return nil
}

// CleanWorktrees removes worktrees whose sessions have ended. Returns
// the number removed.
func (e *Engine) CleanWorktrees() (int, error) {
	all, err := e.Sessions.All()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sess := range all {
		if !sess.State.Terminal() || sess.Worktree == "" {
			continue
		}
		if _, err := os.Stat(sess.Worktree); os.IsNotExist(err) {
			continue
		}
		e.removeWorktree(sess)
		removed++
	}
	return removed, nil
}

func (e *Engine) removeWorktree(sess *state.Session) {
	err := e.Worktrees.Remove(sess.Worktree, worktree.RemoveOptions{
		Force:       true,
		ForceBranch: e.Cfg.Merge.DeleteBranches,
	})
	if err != nil {
		e.Log.Warn("removing worktree failed", "agent", sess.Name, "error", err)
	}
}

// stagger enforces the configured delay between successive spawns.
func (e *Engine) stagger() {
	e.mu.Lock()
	defer e.mu.Unlock()

	delay := e.Cfg.SpawnDelay()
	if wait := delay - time.Since(e.lastSpawn); wait > 0 {
		e.sleep(wait)
	}
	e.lastSpawn = time.Now()
}

// mintName derives a unique agent name from the capability and a short
// random suffix, retrying on the unlikely collision.
func (e *Engine) mintName(capability state.Capability) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		name := fmt.Sprintf("%s-%s", capability, uuid.NewString()[:6])
		_, err := e.Sessions.ByName(name)
		if errs.IsNotFound(err) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errs.Agentf(string(capability), "could not mint a unique agent name")
}

// baseBranch picks the branch new worktrees start from.
func (e *Engine) baseBranch() string {
	if data, err := os.ReadFile(e.Paths.SessionBranchFile()); err == nil {
		if branch := strings.TrimSpace(string(data)); branch != "" {
			return branch
		}
	}
	return e.Cfg.Project.DefaultBranch
}

// capabilityInstructions loads the agent-defs template for a capability,
// if present.
func (e *Engine) capabilityInstructions(capability state.Capability) string {
	path := filepath.Join(e.Paths.AgentDefs(), string(capability)+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// rollback undoes a partial spawn: tmux session, session row, worktree,
// branch. All best-effort.
func (e *Engine) rollback(agent, wtPath, branch string, sess *state.Session) {
	if sess != nil {
		if sess.TmuxSession != "" {
			_ = e.Tmux.KillSession(sess.TmuxSession)
		}
		if err := e.Sessions.DeleteSession(sess.ID); err != nil {
			e.Log.Warn("removing session record failed", "agent", agent, "error", err)
		}
	}
	err := e.Worktrees.Remove(wtPath, worktree.RemoveOptions{Force: true, ForceBranch: true})
	if err != nil {
		e.Log.Warn("rolling back worktree failed", "agent", agent, "branch", branch, "error", err)
	}
}

func (e *Engine) emit(sess *state.Session, eventType, data string) {
	if e.Events == nil {
		return
	}
	err := e.Events.Insert(&eventlog.Event{
		Agent:     sess.Name,
		SessionID: sess.ID,
		RunID:     sess.RunID,
		Type:      eventType,
		Data:      data,
	})
	if err != nil {
		e.Log.Debug("recording lifecycle event failed", "agent", sess.Name, "error", err)
	}
}
