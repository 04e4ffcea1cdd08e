package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/db"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
)

// BinaryCheck verifies an external binary is reachable on PATH.
type BinaryCheck struct {
	BaseCheck
	binary string
	why    string
}

// NewBinaryCheck creates a PATH lookup check for the named binary.
func NewBinaryCheck(binary, why string) *BinaryCheck {
	return &BinaryCheck{
		BaseCheck: BaseCheck{
			CheckName:        binary + "-available",
			CheckDescription: "Check " + binary + " is installed",
			CheckCategory:    CategoryInfrastructure,
		},
		binary: binary,
		why:    why,
	}
}

func (c *BinaryCheck) Run(ctx *CheckContext) *CheckResult {
	path, err := exec.LookPath(c.binary)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: c.binary + " not found on PATH",
			Details: []string{c.why},
			FixHint: "Install " + c.binary + " and re-run",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: c.binary + " found at " + path,
	}
}

// WorkspaceCheck verifies the .legio layout exists.
type WorkspaceCheck struct {
	BaseCheck
}

func NewWorkspaceCheck() *WorkspaceCheck {
	return &WorkspaceCheck{
		BaseCheck: BaseCheck{
			CheckName:        "workspace-initialized",
			CheckDescription: "Check the .legio directory layout exists",
			CheckCategory:    CategoryWorkspace,
		},
	}
}

func (c *WorkspaceCheck) Run(ctx *CheckContext) *CheckResult {
	info, err := os.Stat(ctx.Paths.Legio())
	if err != nil || !info.IsDir() {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: ".legio not found under " + ctx.Paths.Root,
			FixHint: "Run 'legio init' to initialize the workspace",
		}
	}

	var missing []string
	for _, dir := range []string{ctx.Paths.Worktrees(), ctx.Paths.PendingNudges()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "workspace layout incomplete",
			Details: missing,
			FixHint: "Run 'legio init --force' to recreate missing directories",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: ".legio layout present",
	}
}

// ConfigCheck verifies config.yaml parses.
type ConfigCheck struct {
	BaseCheck
}

func NewConfigCheck() *ConfigCheck {
	return &ConfigCheck{
		BaseCheck: BaseCheck{
			CheckName:        "config-valid",
			CheckDescription: "Check config.yaml loads",
			CheckCategory:    CategoryWorkspace,
		},
	}
}

func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	path := ctx.Paths.ConfigFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "config.yaml not found, defaults in effect",
			FixHint: "Run 'legio init' to write a config file",
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "config.yaml failed to load",
			Details: []string{err.Error()},
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("config loaded, project %q", cfg.Project.Name),
	}
}

// StoresCheck opens each existing SQLite store and pings it. Missing
// store files are normal on a fresh workspace and report OK.
type StoresCheck struct {
	BaseCheck
}

func NewStoresCheck() *StoresCheck {
	return &StoresCheck{
		BaseCheck: BaseCheck{
			CheckName:        "stores-openable",
			CheckDescription: "Check the SQLite stores open cleanly",
			CheckCategory:    CategoryStores,
		},
	}
}

func (c *StoresCheck) Run(ctx *CheckContext) *CheckResult {
	stores := map[string]string{
		"sessions":    ctx.Paths.SessionsDB(),
		"mail":        ctx.Paths.MailDB(),
		"events":      ctx.Paths.EventsDB(),
		"merge-queue": ctx.Paths.MergeQueueDB(),
		"metrics":     ctx.Paths.MetricsDB(),
		"audit":       ctx.Paths.AuditDB(),
	}

	var broken []string
	present := 0
	for name, path := range stores {
		handle, err := db.OpenExisting(path)
		if os.IsNotExist(err) {
			continue
		}
		if err == nil {
			err = handle.Ping()
			handle.Close()
		}
		if err != nil {
			broken = append(broken, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		present++
	}

	if len(broken) > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "store files failed to open",
			Details: broken,
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("%d of %d stores present and openable", present, len(stores)),
	}
}

// OrphanSessionCheck finds legio-prefixed tmux sessions that no session
// row accounts for. Orphans usually mean a crashed spawn left a pane
// behind.
type OrphanSessionCheck struct {
	BaseCheck
}

func NewOrphanSessionCheck() *OrphanSessionCheck {
	return &OrphanSessionCheck{
		BaseCheck: BaseCheck{
			CheckName:        "orphan-tmux-sessions",
			CheckDescription: "Check for legio tmux sessions with no session record",
			CheckCategory:    CategorySessions,
		},
	}
}

func (c *OrphanSessionCheck) Run(ctx *CheckContext) *CheckResult {
	live, err := tmux.New().ListSessions()
	if err != nil {
		// No tmux server running means no orphans either.
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "no tmux server running",
		}
	}

	known := make(map[string]bool)
	if store, err := state.Open(ctx.Paths.SessionsDB()); err == nil {
		if sessions, err := store.Active(); err == nil {
			for _, sess := range sessions {
				known[sess.TmuxSession] = true
			}
		}
		store.Close()
	}

	var orphans []string
	for _, sess := range live {
		if !strings.HasPrefix(sess.Name, tmux.SessionPrefix) {
			continue
		}
		if !known[sess.Name] {
			orphans = append(orphans, sess.Name)
		}
	}

	if len(orphans) > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d orphaned tmux session(s)", len(orphans)),
			Details: orphans,
			FixHint: "Run 'legio clean --sessions' to reconcile",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "no orphaned tmux sessions",
	}
}
