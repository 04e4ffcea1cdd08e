package overlay

import (
	"fmt"
	"os"
	"time"

	"github.com/legio-dev/legio/internal/util"
)

// Checkpoint is the optional resume state an agent saves before context
// compaction.
type Checkpoint struct {
	Agent         string    `json:"agent"`
	TaskID        string    `json:"taskId,omitempty"`
	Branch        string    `json:"branch,omitempty"`
	Progress      string    `json:"progress,omitempty"`
	FilesModified []string  `json:"filesModified,omitempty"`
	PendingWork   []string  `json:"pendingWork,omitempty"`
	SavedAt       time.Time `json:"savedAt"`
}

// SaveCheckpoint writes a checkpoint atomically.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	cp.SavedAt = time.Now()
	return util.AtomicWriteJSON(path, cp)
}

// LoadCheckpoint reads a checkpoint. A missing file returns (nil, nil);
// having no checkpoint is the common case.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := util.ReadJSON(path, &cp); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	return &cp, nil
}
