package nudge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/legio-dev/legio/internal/util"
	"github.com/legio-dev/legio/internal/workspace"
)

// spoolMaxAge bounds how long an undeliverable nudge waits before it is
// dropped.
const spoolMaxAge = time.Hour

// spoolEntry is one queued nudge on disk.
type spoolEntry struct {
	Agent    string    `json:"agent"`
	Message  string    `json:"message"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Spool queues a nudge for an agent whose session is not currently
// reachable. The watchdog drains the spool on its tick.
func Spool(paths workspace.Paths, agent, message string) error {
	entry := spoolEntry{Agent: agent, Message: message, QueuedAt: time.Now()}
	name := fmt.Sprintf("%d-%s.json", entry.QueuedAt.UnixMicro(), agent)
	return util.AtomicWriteJSON(filepath.Join(paths.PendingNudges(), name), entry)
}

// DrainSpool attempts delivery of every queued nudge in arrival order.
// Delivered and expired entries are removed; the rest stay queued for
// the next drain. Returns the number delivered.
func (d *Dispatcher) DrainSpool() (int, error) {
	dir := d.Paths.PendingNudges()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading nudge spool: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	delivered := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		var entry spoolEntry
		if err := util.ReadJSON(path, &entry); err != nil {
			d.Log.Warn("dropping unreadable spooled nudge", "file", name, "error", err)
			_ = os.Remove(path)
			continue
		}
		if time.Since(entry.QueuedAt) > spoolMaxAge {
			d.Log.Info("dropping expired spooled nudge", "agent", entry.Agent)
			_ = os.Remove(path)
			continue
		}

		res, err := d.Send(entry.Agent, entry.Message, false)
		if err != nil {
			d.Log.Warn("draining spooled nudge failed", "agent", entry.Agent, "error", err)
			continue
		}
		if res.Delivered {
			delivered++
			_ = os.Remove(path)
		}
	}
	return delivered, nil
}
