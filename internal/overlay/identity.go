package overlay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/util"
)

// recentTaskCap bounds the identity's recent-task history.
const recentTaskCap = 10

// Identity is the durable per-agent profile. It survives sessions and
// accumulates across an agent's lifetime.
type Identity struct {
	Name              string           `yaml:"name"`
	Capability        state.Capability `yaml:"capability"`
	Expertise         []string         `yaml:"expertise,omitempty"`
	RecentTasks       []string         `yaml:"recent_tasks,omitempty"`
	SessionsCompleted int              `yaml:"sessions_completed"`
	UpdatedAt         time.Time        `yaml:"updated_at"`
}

// LoadIdentity reads an identity file. A missing file returns a fresh
// zero identity for the given name, not an error.
func LoadIdentity(path, name string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Identity{Name: name}, nil
		}
		return nil, fmt.Errorf("reading identity %s: %w", path, err)
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parsing identity %s: %w", path, err)
	}
	if id.Name == "" {
		id.Name = name
	}
	return &id, nil
}

// Save writes the identity atomically.
func (id *Identity) Save(path string) error {
	id.UpdatedAt = time.Now()
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("encoding identity %s: %w", id.Name, err)
	}
	return util.AtomicWriteFile(path, data, 0o644)
}

// RecordTask prepends a task to the recent history, bounded and
// deduplicated.
func (id *Identity) RecordTask(taskID string) {
	if taskID == "" {
		return
	}
	tasks := []string{taskID}
	for _, t := range id.RecentTasks {
		if t != taskID {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) > recentTaskCap {
		tasks = tasks[:recentTaskCap]
	}
	id.RecentTasks = tasks
}
