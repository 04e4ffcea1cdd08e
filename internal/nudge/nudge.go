// Package nudge delivers text into live agent terminal sessions with
// debounce and retry.
package nudge

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/util"
	"github.com/legio-dev/legio/internal/workspace"
)

const (
	// DebounceWindow is the minimum gap between nudges to one agent.
	DebounceWindow = 500 * time.Millisecond
	// sendRetries bounds delivery attempts.
	sendRetries = 3
	// retryDelay spaces delivery attempts.
	retryDelay = 500 * time.Millisecond
)

// Orchestrator is the well-known alias for the untracked operator
// session.
const Orchestrator = "orchestrator"

// Result reports a delivery outcome. An undelivered nudge carries the
// reason; reasons are outcomes, not errors.
type Result struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

// orchestratorRecord is the registration file the orchestrator writes
// at startup, since it has no session row.
type orchestratorRecord struct {
	TmuxSession string `json:"tmuxSession"`
}

// RegisterOrchestrator records the orchestrator's tmux session name so
// nudges can reach it.
func RegisterOrchestrator(paths workspace.Paths, session string) error {
	return util.AtomicWriteJSON(paths.OrchestratorTmuxFile(), orchestratorRecord{TmuxSession: session})
}

// Dispatcher sends nudges. The sessions store resolves regular agents;
// the orchestrator resolves through its registration file.
type Dispatcher struct {
	Tmux     *tmux.Tmux
	Sessions *state.Store
	Paths    workspace.Paths
	Events   *eventlog.Store
	Project  string
	Log      hclog.Logger

	// sleep is swapped in tests.
	sleep func(time.Duration)
	now   func() time.Time
}

// NewDispatcher wires a Dispatcher. Events may be nil; event emission
// is fire-and-forget either way.
func NewDispatcher(t *tmux.Tmux, sessions *state.Store, paths workspace.Paths, events *eventlog.Store, project string, log hclog.Logger) *Dispatcher {
	return &Dispatcher{
		Tmux:     t,
		Sessions: sessions,
		Paths:    paths,
		Events:   events,
		Project:  project,
		Log:      log,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Send delivers message to agent's session: resolve the target, check
// the debounce record, verify liveness, then send with bounded retries.
// force bypasses debounce. The debounce record and the custom event are
// written only after a successful send.
func (d *Dispatcher) Send(agent, message string, force bool) (*Result, error) {
	target, err := d.resolveTarget(agent)
	if err != nil {
		if errs.IsNotFound(err) {
			return &Result{Reason: fmt.Sprintf("no session for agent %s", agent)}, nil
		}
		return nil, err
	}

	if !force {
		debounced, err := d.debounced(agent)
		if err != nil {
			return nil, err
		}
		if debounced {
			d.Log.Debug("nudge debounced", "agent", agent)
			return &Result{Reason: "debounced"}, nil
		}
	}

	if !d.Tmux.HasSession(target) {
		return &Result{Reason: fmt.Sprintf("session %s is not alive", target)}, nil
	}

	var sendErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		if sendErr = d.Tmux.SendKeys(target, message); sendErr == nil {
			break
		}
		d.Log.Debug("nudge attempt failed", "agent", agent, "attempt", attempt, "error", sendErr)
		if attempt < sendRetries {
			d.sleep(retryDelay)
		}
	}
	if sendErr != nil {
		return &Result{Reason: fmt.Sprintf("send failed after %d attempts: %v", sendRetries, sendErr)}, nil
	}

	if err := d.recordNudge(agent); err != nil {
		d.Log.Warn("writing nudge debounce record failed", "agent", agent, "error", err)
	}
	d.emitEvent(agent, message)
	d.Log.Info("nudge delivered", "agent", agent, "session", target)
	return &Result{Delivered: true}, nil
}

// resolveTarget maps an agent name to its tmux session. The
// orchestrator is not in the sessions store; it registers its session
// in a well-known file instead.
func (d *Dispatcher) resolveTarget(agent string) (string, error) {
	if agent == Orchestrator {
		var rec orchestratorRecord
		if err := util.ReadJSON(d.Paths.OrchestratorTmuxFile(), &rec); err != nil || rec.TmuxSession == "" {
			return "", errs.NotFound("orchestrator session", d.Paths.OrchestratorTmuxFile())
		}
		return rec.TmuxSession, nil
	}

	sess, err := d.Sessions.ByName(agent)
	if err != nil {
		return "", err
	}
	if sess.TmuxSession != "" {
		return sess.TmuxSession, nil
	}
	return tmux.SessionName(d.Project, agent), nil
}

// debounced reports whether agent was nudged within the window.
func (d *Dispatcher) debounced(agent string) (bool, error) {
	records, unlock, err := d.lockedRecords()
	if err != nil {
		return false, err
	}
	defer unlock()

	last, ok := records[agent]
	if !ok {
		return false, nil
	}
	return d.now().Sub(time.UnixMicro(last)) < DebounceWindow, nil
}

func (d *Dispatcher) recordNudge(agent string) error {
	records, unlock, err := d.lockedRecords()
	if err != nil {
		return err
	}
	defer unlock()

	records[agent] = d.now().UnixMicro()
	return util.AtomicWriteJSON(d.Paths.NudgeStateFile(), records)
}

// lockedRecords loads the debounce map under the cross-process file
// lock. The caller must invoke unlock.
func (d *Dispatcher) lockedRecords() (map[string]int64, func(), error) {
	lock := flock.New(d.Paths.NudgeStateFile() + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, nil, fmt.Errorf("locking nudge state: %w", err)
	}
	unlock := func() { _ = lock.Unlock() }

	records := make(map[string]int64)
	if err := util.ReadJSON(d.Paths.NudgeStateFile(), &records); err != nil && !os.IsNotExist(err) {
		// A corrupt record file only weakens debounce; start fresh.
		d.Log.Warn("reading nudge state failed", "error", err)
	}
	return records, unlock, nil
}

func (d *Dispatcher) emitEvent(agent, message string) {
	if d.Events == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"action": "nudge", "message": message})
	err := d.Events.Insert(&eventlog.Event{
		Agent: agent,
		Type:  eventlog.TypeCustom,
		Data:  string(data),
	})
	if err != nil {
		d.Log.Debug("recording nudge event failed", "agent", agent, "error", err)
	}
}
