// Package setup creates and inspects the .legio project layout. Shared
// by legio init and the setup API endpoints.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/workspace"
)

// gitignore keeps the state directory out of the project's history while
// whitelisting the files worth versioning.
const gitignore = `*
!.gitignore
!config.yaml
!agent-defs
!agent-defs/**
`

// Status reports what exists under .legio.
type Status struct {
	Initialized  bool            `json:"initialized"`
	Root         string          `json:"root"`
	ConfigExists bool            `json:"configExists"`
	Stores       map[string]bool `json:"stores"`
}

// Init creates the .legio layout under root. An existing layout is an
// error unless force is set; force never deletes existing state, it
// only rewrites config and gitignore.
func Init(root string, force bool) error {
	paths := workspace.NewPaths(root)

	if _, err := os.Stat(paths.Legio()); err == nil && !force {
		return errs.Validationf("%s already exists (use --force to reinitialize)", paths.Legio())
	}

	for _, dir := range []string{
		paths.Legio(),
		paths.Worktrees(),
		paths.PendingNudges(),
		paths.AgentDefs(),
		filepath.Join(paths.Legio(), "agents"),
		filepath.Join(paths.Legio(), "logs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	cfg := config.Default()
	cfg.Project.Name = filepath.Base(root)
	if _, err := os.Stat(paths.ConfigFile()); os.IsNotExist(err) || force {
		if err := config.Save(paths.ConfigFile(), cfg); err != nil {
			return err
		}
	}

	ignorePath := filepath.Join(paths.Legio(), ".gitignore")
	if err := os.WriteFile(ignorePath, []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ignorePath, err)
	}
	return nil
}

// Inspect reports the current layout state.
func Inspect(paths workspace.Paths) Status {
	st := Status{Root: paths.Root, Stores: make(map[string]bool)}

	if info, err := os.Stat(paths.Legio()); err == nil && info.IsDir() {
		st.Initialized = true
	}
	if _, err := os.Stat(paths.ConfigFile()); err == nil {
		st.ConfigExists = true
	}
	for name, path := range map[string]string{
		"sessions":    paths.SessionsDB(),
		"mail":        paths.MailDB(),
		"events":      paths.EventsDB(),
		"merge-queue": paths.MergeQueueDB(),
		"metrics":     paths.MetricsDB(),
		"audit":       paths.AuditDB(),
	} {
		_, err := os.Stat(path)
		st.Stores[name] = err == nil
	}
	return st
}
