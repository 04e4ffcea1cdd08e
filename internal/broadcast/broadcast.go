// Package broadcast pushes point-in-time state snapshots to connected
// WebSocket clients.
//
// Snapshots are digests, not an event stream: clients get the current
// picture every interval when it changed, never a guaranteed ordering
// against individual events.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/autopilot"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/mergeq"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/workspace"
)

// DefaultInterval is the snapshot poll cadence.
const DefaultInterval = 2 * time.Second

// recentMailLimit bounds the mail slice in a snapshot.
const recentMailLimit = 20

// MetricsSummary aggregates session counts for the snapshot.
type MetricsSummary struct {
	TotalSessions int     `json:"totalSessions"`
	ActiveCount   int     `json:"activeCount"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Snapshot is one observability digest.
type Snapshot struct {
	Sessions    []*state.Session `json:"sessions"`
	Mail        []*mail.Message  `json:"mail"`
	UnreadCount int              `json:"unreadCount"`
	MergeQueue  []*mergeq.Entry  `json:"mergeQueue"`
	Metrics     MetricsSummary   `json:"metrics"`
	ActiveRun   *state.Run       `json:"activeRun,omitempty"`
	Autopilot   *autopilot.State `json:"autopilot,omitempty"`
}

// frame is the wire shape of every server-to-client message.
type frame struct {
	Type      string    `json:"type"`
	Data      *Snapshot `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// clientMessage is the only client-to-server shape accepted.
type clientMessage struct {
	Type string `json:"type"`
}

// Broadcaster gathers snapshots and fans them out.
type Broadcaster struct {
	Paths    workspace.Paths
	Interval time.Duration
	// AutopilotState, when set, contributes the daemon state to each
	// snapshot.
	AutopilotState func() autopilot.State
	Log            hclog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	prev    []byte
}

// New wires a Broadcaster with the default interval.
func New(paths workspace.Paths, log hclog.Logger) *Broadcaster {
	return &Broadcaster{
		Paths:    paths,
		Interval: DefaultInterval,
		Log:      log,
		clients:  make(map[*websocket.Conn]bool),
	}
}

// Run polls and broadcasts until ctx is cancelled, then closes every
// client.
func (b *Broadcaster) Run(ctx context.Context) {
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.Log.Info("broadcaster started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			b.Log.Info("broadcaster stopped")
			return
		case <-ticker.C:
			b.broadcast()
		}
	}
}

// Serve owns one client connection: register, send the current snapshot
// immediately, then read until the client goes away. A refresh message
// forces a re-send; everything else is ignored.
func (b *Broadcaster) Serve(conn *websocket.Conn) {
	b.mu.Lock()
	b.clients[conn] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	b.sendSnapshot(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "refresh" {
			b.sendSnapshot(conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast gathers a snapshot and sends it to every client when it
// differs from the previous one. Clients whose send fails are dropped.
func (b *Broadcaster) broadcast() {
	snap, err := b.Gather()
	if err != nil {
		b.Log.Warn("gathering snapshot failed", "error", err)
		return
	}
	serialized, err := json.Marshal(snap)
	if err != nil {
		b.Log.Warn("encoding snapshot failed", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if bytes.Equal(serialized, b.prev) {
		return
	}
	b.prev = serialized

	payload := frame{Type: "snapshot", Data: snap, Timestamp: time.Now()}
	for conn := range b.clients {
		if err := conn.WriteJSON(payload); err != nil {
			b.Log.Debug("dropping client", "error", err)
			delete(b.clients, conn)
			_ = conn.Close()
		}
	}
}

// sendSnapshot sends the current state to one client, ignoring gather
// failures; the next tick will retry.
func (b *Broadcaster) sendSnapshot(conn *websocket.Conn) {
	snap, err := b.Gather()
	if err != nil {
		b.Log.Warn("gathering snapshot failed", "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := conn.WriteJSON(frame{Type: "snapshot", Data: snap, Timestamp: time.Now()}); err != nil {
		b.Log.Debug("initial snapshot send failed", "error", err)
	}
}

// Gather assembles a snapshot, opening each store for the duration of
// the call. A store that cannot be read contributes its zero value;
// observers prefer a partial picture over none.
func (b *Broadcaster) Gather() (*Snapshot, error) {
	snap := &Snapshot{}

	if sessions, err := state.Open(b.Paths.SessionsDB()); err == nil {
		if active, err := sessions.Active(); err == nil {
			snap.Sessions = active
		}
		if all, err := sessions.All(); err == nil {
			snap.Metrics = summarize(all)
		}
		if run, err := sessions.ActiveRun(); err == nil {
			snap.ActiveRun = run
		}
		_ = sessions.Close()
	}

	if mailStore, err := mail.Open(b.Paths.MailDB()); err == nil {
		if msgs, err := mailStore.All(mail.Filter{Limit: recentMailLimit}); err == nil {
			snap.Mail = msgs
		}
		if n, err := mailStore.UnreadCount(""); err == nil {
			snap.UnreadCount = n
		}
		_ = mailStore.Close()
	}

	if queue, err := mergeq.Open(b.Paths.MergeQueueDB()); err == nil {
		if entries, err := queue.List(""); err == nil {
			snap.MergeQueue = entries
		}
		_ = queue.Close()
	}

	if b.AutopilotState != nil {
		st := b.AutopilotState()
		snap.Autopilot = &st
	}
	return snap, nil
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		_ = conn.Close()
	}
	b.clients = make(map[*websocket.Conn]bool)
}

func summarize(all []*state.Session) MetricsSummary {
	summary := MetricsSummary{TotalSessions: len(all)}
	var totalMs int64
	ended := 0
	for _, sess := range all {
		if sess.Active() {
			summary.ActiveCount++
			continue
		}
		if !sess.StoppedAt.IsZero() && !sess.StartedAt.IsZero() {
			totalMs += sess.StoppedAt.Sub(sess.StartedAt).Milliseconds()
			ended++
		}
	}
	if ended > 0 {
		summary.AvgDurationMs = float64(totalMs) / float64(ended)
	}
	return summary
}
