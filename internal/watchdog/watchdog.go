// Package watchdog supervises active sessions: liveness, stall
// detection, and the escalation ladder.
//
// The watchdog never deletes session records; cleanup belongs to the
// lifecycle engine. It tolerates transient store errors by skipping the
// affected session until the next tick.
package watchdog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/nudge"
	"github.com/legio-dev/legio/internal/proc"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/triage"
)

// checkInMessage is the default level-1 nudge text.
const checkInMessage = "Please check in: report your current status and whether you are blocked."

// Watchdog runs the supervision loop.
type Watchdog struct {
	Sessions *state.Store
	Tmux     *tmux.Tmux
	Events   *eventlog.Store
	Nudger   *nudge.Dispatcher
	Triager  *triage.Triager
	Mail     *mail.Store
	Cfg      *config.Config
	Log      hclog.Logger

	mu      sync.Mutex
	retries map[string]int

	now func() time.Time
}

// New wires a Watchdog.
func New(sessions *state.Store, t *tmux.Tmux, events *eventlog.Store, nudger *nudge.Dispatcher, triager *triage.Triager, mailStore *mail.Store, cfg *config.Config, log hclog.Logger) *Watchdog {
	return &Watchdog{
		Sessions: sessions,
		Tmux:     t,
		Events:   events,
		Nudger:   nudger,
		Triager:  triager,
		Mail:     mailStore,
		Cfg:      cfg,
		Log:      log,
		retries:  make(map[string]int),
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Cfg.WatchdogInterval())
	defer ticker.Stop()

	w.Log.Info("watchdog started", "interval", w.Cfg.WatchdogInterval())
	for {
		select {
		case <-ctx.Done():
			w.Log.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one supervision pass over the active sessions, then drains
// the pending nudge spool.
func (w *Watchdog) Tick(ctx context.Context) {
	sessions, err := w.Sessions.Active()
	if err != nil {
		w.Log.Warn("listing active sessions failed", "error", err)
		return
	}
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		w.check(ctx, sess)
	}

	if w.Nudger != nil {
		if _, err := w.Nudger.DrainSpool(); err != nil {
			w.Log.Warn("draining nudge spool failed", "error", err)
		}
	}
}

// check inspects one session. Liveness stops at the first definitive
// signal: terminal session present, then root pid alive, then recent
// activity.
func (w *Watchdog) check(ctx context.Context, sess *state.Session) {
	log := w.Log.With("agent", sess.Name, "session", sess.ID)

	if !w.alive(sess) {
		w.markZombie(sess, log)
		return
	}

	stale := w.now().Sub(sess.LastActivity) > w.Cfg.StaleThreshold()
	if !stale {
		if sess.State == state.StateStalled {
			if err := w.Sessions.ResetStall(sess.ID, w.now()); err != nil {
				log.Warn("resetting stall failed", "error", err)
			}
		}
		return
	}

	if sess.State != state.StateStalled {
		if err := w.Sessions.MarkStalled(sess.ID, w.now()); err != nil {
			log.Warn("marking stalled failed", "error", err)
			return
		}
		log.Warn("session stalled", "lastActivity", sess.LastActivity)
	}

	// A fresh stall walks the first ladder rung in the same pass; the
	// nudge must not wait for the next tick.
	w.escalate(ctx, sess, log)
}

func (w *Watchdog) alive(sess *state.Session) bool {
	if sess.TmuxSession != "" && w.Tmux.HasSession(sess.TmuxSession) {
		return true
	}
	if sess.Pid > 0 && proc.Alive(sess.Pid) {
		return true
	}
	return w.now().Sub(sess.LastActivity) <= w.Cfg.StaleThreshold()
}

// markZombie records an unexpectedly dead session and appends the
// synthetic terminal event. Re-running on an already-marked session is
// harmless; MarkEnded is idempotent.
func (w *Watchdog) markZombie(sess *state.Session, log hclog.Logger) {
	if err := w.Sessions.MarkEnded(sess.ID, state.StateZombie, w.now()); err != nil {
		log.Warn("marking zombie failed", "error", err)
		return
	}
	log.Warn("session is a zombie", "tmux", sess.TmuxSession, "pid", sess.Pid)
	w.emitEnd(sess, "watchdog")
}

// escalate walks the ladder for a stalled session:
// level 1 nudges, level 2 triages, level 3 and above mails the
// coordinator. Retries stop at the configured cap.
func (w *Watchdog) escalate(ctx context.Context, sess *state.Session, log hclog.Logger) {
	w.mu.Lock()
	attempts := w.retries[sess.ID]
	w.retries[sess.ID] = attempts + 1
	w.mu.Unlock()
	if attempts >= w.Cfg.Watchdog.MaxRetries {
		log.Warn("escalation retries exhausted", "attempts", attempts)
		return
	}

	switch {
	case sess.Escalation <= 1:
		res, err := w.Nudger.Send(sess.Name, checkInMessage, false)
		if err != nil {
			log.Warn("escalation nudge failed", "error", err)
			return
		}
		log.Info("escalation nudge", "level", 1, "delivered", res.Delivered, "reason", res.Reason)
		if err := w.Sessions.SetEscalation(sess.ID, 2); err != nil {
			log.Warn("raising escalation failed", "error", err)
		}

	case sess.Escalation == 2:
		w.triageStalled(ctx, sess, log)

	default:
		w.mailEscalation(sess, log)
	}
}

func (w *Watchdog) triageStalled(ctx context.Context, sess *state.Session, log hclog.Logger) {
	tail, err := w.Tmux.Capture(sess.TmuxSession, 50)
	if err != nil {
		log.Warn("capturing session output failed", "error", err)
	}

	verdict := w.Triager.Assess(ctx, triage.Request{
		Agent:        sess.Name,
		LastActivity: sess.LastActivity,
		LogTail:      tail,
	})

	switch verdict {
	case triage.VerdictRetry:
		if _, err := w.Nudger.Send(sess.Name, checkInMessage, true); err != nil {
			log.Warn("triage re-nudge failed", "error", err)
		}
		if err := w.Sessions.SetEscalation(sess.ID, 3); err != nil {
			log.Warn("raising escalation failed", "error", err)
		}

	case triage.VerdictTerminate:
		log.Warn("triage verdict terminate, killing session tree")
		if err := w.Tmux.KillSession(sess.TmuxSession); err != nil {
			log.Warn("killing session failed", "error", err)
		}
		// The session may be live through its pid alone; the tmux kill
		// does not reach that tree.
		proc.KillTree(sess.Pid, w.Tmux.KillGrace)
		if err := w.Sessions.MarkEnded(sess.ID, state.StateZombie, w.now()); err != nil {
			log.Warn("marking session ended failed", "error", err)
		}
		w.emitEnd(sess, "watchdog")

	case triage.VerdictExtend:
		if err := w.Sessions.ResetStall(sess.ID, w.now()); err != nil {
			log.Warn("extending session failed", "error", err)
		}
		log.Info("triage verdict extend, stall reset")
	}
}

// mailEscalation notifies the coordinator. Mail failures do not stop
// the ladder; the level stays where it is and the next tick retries.
func (w *Watchdog) mailEscalation(sess *state.Session, log hclog.Logger) {
	if w.Mail == nil {
		return
	}
	m := mail.NewMessage("watchdog", "coordinator",
		"Escalation: agent "+sess.Name+" is unresponsive",
		"The agent has stayed stalled through nudge and triage. Intervention needed.")
	m.Type = mail.TypeEscalation
	m.Priority = mail.PriorityUrgent
	_ = m.SetPayload(mail.EscalationPayload{
		Agent:  sess.Name,
		Reason: "stalled past triage",
		Level:  sess.Escalation,
	})
	if err := w.Mail.Insert(m); err != nil {
		log.Warn("sending escalation mail failed", "error", err)
		return
	}
	log.Warn("escalation mail sent", "level", sess.Escalation)
}

// emitEnd appends the synthetic session_end event. Fire-and-forget.
func (w *Watchdog) emitEnd(sess *state.Session, reason string) {
	if w.Events == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"reason": reason})
	err := w.Events.Insert(&eventlog.Event{
		Agent:     sess.Name,
		SessionID: sess.ID,
		RunID:     sess.RunID,
		Type:      eventlog.TypeSessionEnd,
		Level:     eventlog.LevelWarn,
		Data:      string(data),
	})
	if err != nil {
		w.Log.Debug("recording session_end failed", "agent", sess.Name, "error", err)
	}
}
