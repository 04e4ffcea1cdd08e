// Package autopilot is the in-process control loop that consumes typed
// mail and drives merges without an operator.
//
// Nothing may escape a tick: every error is absorbed, logged, and the
// interval continues.
package autopilot

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/workspace"
)

// actionRingCap bounds the retained action history.
const actionRingCap = 50

// Action is one thing the autopilot did.
type Action struct {
	Type    string    `json:"type"`
	Details string    `json:"details"`
	At      time.Time `json:"at"`
}

// State is the externally visible daemon state. Snapshots are deep
// copies; mutating one never touches the daemon.
type State struct {
	Running   bool                   `json:"running"`
	StartedAt time.Time              `json:"startedAt,omitempty"`
	StoppedAt time.Time              `json:"stoppedAt,omitempty"`
	LastTick  time.Time              `json:"lastTick,omitempty"`
	TickCount int64                  `json:"tickCount"`
	Actions   []Action               `json:"actions"`
	Config    config.AutopilotConfig `json:"config"`
}

// MergeFunc integrates one branch. The autopilot stays ignorant of the
// resolver's wiring.
type MergeFunc func(branch string) error

// CleanFunc removes completed worktrees, returning how many.
type CleanFunc func() (int, error)

// Autopilot is the daemon. Construct with New; the zero value is not
// usable.
type Autopilot struct {
	cfg   *config.Config
	paths workspace.Paths
	merge MergeFunc
	clean CleanFunc
	log   hclog.Logger

	ops chan func()

	// Mutated only on the run goroutine (or synchronously through ops
	// while stopped).
	running   bool
	startedAt time.Time
	stoppedAt time.Time
	lastTick  time.Time
	tickCount int64
	actions   []Action
}

// New wires an Autopilot.
func New(cfg *config.Config, paths workspace.Paths, mergeFn MergeFunc, cleanFn CleanFunc, log hclog.Logger) *Autopilot {
	a := &Autopilot{
		cfg:   cfg,
		paths: paths,
		merge: mergeFn,
		clean: cleanFn,
		log:   log,
		ops:   make(chan func()),
	}
	go a.loop()
	return a
}

// loop serialises every state access on one goroutine.
func (a *Autopilot) loop() {
	var ticker *time.Ticker
	var tick <-chan time.Time

	for {
		select {
		case op, ok := <-a.ops:
			if !ok {
				if ticker != nil {
					ticker.Stop()
				}
				return
			}
			op()
			// Start/Stop toggled running; realign the ticker.
			if a.running && ticker == nil {
				ticker = time.NewTicker(a.cfg.AutopilotInterval())
				tick = ticker.C
			}
			if !a.running && ticker != nil {
				ticker.Stop()
				ticker = nil
				tick = nil
			}
		case <-tick:
			a.tick()
		}
	}
}

// do runs fn on the daemon goroutine and waits for it.
func (a *Autopilot) do(fn func()) {
	done := make(chan struct{})
	a.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// Start begins ticking. Starting a running daemon is a no-op.
func (a *Autopilot) Start() {
	a.do(func() {
		if a.running {
			return
		}
		a.running = true
		a.startedAt = time.Now()
		a.stoppedAt = time.Time{}
		a.log.Info("autopilot started", "interval", a.cfg.AutopilotInterval())
	})
}

// Stop halts ticking. Stopping a stopped daemon is a no-op.
func (a *Autopilot) Stop() {
	a.do(func() {
		if !a.running {
			return
		}
		a.running = false
		a.stoppedAt = time.Now()
		a.log.Info("autopilot stopped", "ticks", a.tickCount)
	})
}

// Shutdown stops the daemon goroutine entirely.
func (a *Autopilot) Shutdown() {
	a.Stop()
	close(a.ops)
}

// State returns a deep snapshot.
func (a *Autopilot) State() State {
	var s State
	a.do(func() {
		s = State{
			Running:   a.running,
			StartedAt: a.startedAt,
			StoppedAt: a.stoppedAt,
			LastTick:  a.lastTick,
			TickCount: a.tickCount,
			Config:    a.cfg.Autopilot,
		}
		s.Actions = make([]Action, len(a.actions))
		copy(s.Actions, a.actions)
	})
	return s
}

// tick runs one pass. Panics and errors are absorbed here; the loop
// must outlive anything a tick does.
func (a *Autopilot) tick() {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("autopilot tick panicked", "panic", r)
		}
	}()

	a.lastTick = time.Now()
	a.tickCount++

	a.processMail()

	if a.cfg.Autopilot.AutoCleanWorktrees && a.clean != nil {
		if n, err := a.clean(); err != nil {
			a.log.Warn("worktree cleanup failed", "error", err)
		} else if n > 0 {
			a.record("clean", fmt.Sprintf("Removed %d completed worktrees", n))
		}
	}
}

func (a *Autopilot) processMail() {
	store, err := mail.Open(a.paths.MailDB())
	if err != nil {
		a.log.Warn("opening mail store failed", "error", err)
		return
	}
	defer store.Close()

	seen := make(map[string]bool)
	var pending []*mail.Message
	for _, recipient := range []string{"coordinator", "orchestrator"} {
		msgs, err := store.Unread(recipient)
		if err != nil {
			a.log.Warn("reading unread mail failed", "recipient", recipient, "error", err)
			continue
		}
		for _, m := range msgs {
			if !seen[m.ID] {
				seen[m.ID] = true
				pending = append(pending, m)
			}
		}
	}

	for _, m := range pending {
		a.handle(store, m)
	}
}

func (a *Autopilot) handle(store *mail.Store, m *mail.Message) {
	switch {
	case m.Type == mail.TypeMergeReady && a.cfg.Autopilot.AutoMerge:
		branch := mail.ExtractBranch(m)
		if branch == "" {
			a.log.Warn("merge_ready without a branch", "message", m.ID)
			a.record("merge", "merge_ready message "+m.ID+" carried no branch")
			break
		}
		if err := a.merge(branch); err != nil {
			a.log.Warn("autopilot merge failed", "branch", branch, "error", err)
			a.record("merge", fmt.Sprintf("Merge failed for %s: %v", branch, err))
			break
		}
		a.record("merge", "Merged branch: "+branch)

	case m.Type == mail.TypeError || m.Type == mail.TypeEscalation:
		// No automatic remediation; surface it in the action log.
		a.record(string(m.Type), fmt.Sprintf("%s from %s: %s", m.Type, m.From, m.Subject))
	}

	if err := store.MarkRead(m.ID); err != nil {
		a.log.Warn("marking mail read failed", "message", m.ID, "error", err)
	}
}

func (a *Autopilot) record(actionType, details string) {
	a.actions = append(a.actions, Action{Type: actionType, Details: details, At: time.Now()})
	if len(a.actions) > actionRingCap {
		a.actions = a.actions[len(a.actions)-actionRingCap:]
	}
	a.log.Info("autopilot action", "type", actionType, "details", details)
}
