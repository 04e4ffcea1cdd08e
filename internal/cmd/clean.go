package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/git"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/mergeq"
	"github.com/legio-dev/legio/internal/metrics"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/workspace"
	"github.com/legio-dev/legio/internal/worktree"
)

var (
	cleanAll       bool
	cleanMail      bool
	cleanSessions  bool
	cleanMetrics   bool
	cleanLogs      bool
	cleanWorktrees bool
	cleanBranches  bool
	cleanAgents    bool
	cleanSpecs     bool
)

var cleanCmd = &cobra.Command{
	Use:     "clean",
	GroupID: GroupMaintenance,
	Short:   "Purge stores and reap dead state",
	Long: `Clean up accumulated state. Each flag selects one target; --all
selects everything.

--sessions first reconciles against tmux (a recorded session whose
tmux session is gone becomes a zombie), auto-completes the active run,
then purges the store. The tmux listing is authoritative: sessions are
discovered, not trusted.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Clean everything")
	cleanCmd.Flags().BoolVar(&cleanMail, "mail", false, "Purge the mail store")
	cleanCmd.Flags().BoolVar(&cleanSessions, "sessions", false, "Reconcile and purge sessions and runs")
	cleanCmd.Flags().BoolVar(&cleanMetrics, "metrics", false, "Purge metrics snapshots")
	cleanCmd.Flags().BoolVar(&cleanLogs, "logs", false, "Purge the event log and log files")
	cleanCmd.Flags().BoolVar(&cleanWorktrees, "worktrees", false, "Remove worktrees of ended sessions")
	cleanCmd.Flags().BoolVar(&cleanBranches, "branches", false, "Delete orphaned legio/ branches")
	cleanCmd.Flags().BoolVar(&cleanAgents, "agents", false, "Remove per-agent identity directories")
	cleanCmd.Flags().BoolVar(&cleanSpecs, "specs", false, "Remove saved agent checkpoints")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanAll {
		cleanMail = true
		cleanSessions = true
		cleanMetrics = true
		cleanLogs = true
		cleanWorktrees = true
		cleanBranches = true
		cleanAgents = true
		cleanSpecs = true
	}
	if !cleanMail && !cleanSessions && !cleanMetrics && !cleanLogs &&
		!cleanWorktrees && !cleanBranches && !cleanAgents && !cleanSpecs {
		return cmd.Help()
	}

	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "clean")
	report := make(map[string]int64)

	// Worktrees go before sessions: cleanup needs the terminal session
	// rows that the purge removes.
	if cleanWorktrees {
		engine, stores, err := openEngine(paths, cfg, log)
		if err != nil {
			return err
		}
		removed, err := engine.CleanWorktrees()
		stores.Close()
		if err != nil {
			return err
		}
		report["worktrees"] = int64(removed)
	}

	if cleanSessions {
		n, err := reapSessions(paths)
		if err != nil {
			return err
		}
		report["sessions"] = n
	}

	if cleanMail {
		store, err := mail.Open(paths.MailDB())
		if err != nil {
			return err
		}
		n, err := store.Purge()
		store.Close()
		if err != nil {
			return err
		}
		report["mail"] = n

		queue, err := mergeq.Open(paths.MergeQueueDB())
		if err != nil {
			return err
		}
		qn, err := queue.Purge()
		queue.Close()
		if err != nil {
			return err
		}
		report["merge-queue"] = qn
	}

	if cleanMetrics {
		store, err := metrics.Open(paths.MetricsDB())
		if err != nil {
			return err
		}
		n, err := store.Purge()
		store.Close()
		if err != nil {
			return err
		}
		report["metrics"] = n
	}

	if cleanLogs {
		store, err := eventlog.Open(paths.EventsDB())
		if err != nil {
			return err
		}
		n, err := store.Purge()
		store.Close()
		if err != nil {
			return err
		}
		report["events"] = n
		_ = os.RemoveAll(filepath.Join(paths.Legio(), "logs"))
	}

	if cleanBranches {
		n, err := reapBranches(paths)
		if err != nil {
			return err
		}
		report["branches"] = n
	}

	if cleanAgents {
		report["agents"] = removeEntries(filepath.Join(paths.Legio(), "agents"))
	}

	if cleanSpecs {
		var n int64
		agentsDir := filepath.Join(paths.Legio(), "agents")
		entries, _ := os.ReadDir(agentsDir)
		for _, entry := range entries {
			cp := paths.CheckpointFile(entry.Name())
			if err := os.Remove(cp); err == nil {
				n++
			}
		}
		report["checkpoints"] = n
	}

	if jsonOutput {
		return printJSON(report)
	}
	for target, n := range report {
		fmt.Printf("%-12s %d\n", target, n)
	}
	style.PrintSuccess("clean done")
	return nil
}

// reapSessions reconciles the store against tmux, completes the active
// run, and purges. Returns the number of purged session rows.
func reapSessions(paths workspace.Paths) (int64, error) {
	store, err := state.Open(paths.SessionsDB())
	if err != nil {
		return 0, err
	}
	defer store.Close()
	store.SetLegacyPath(paths.LegacySessionsFile())

	active, err := store.Active()
	if err != nil {
		return 0, err
	}

	t := tmux.New()
	events, _ := eventlog.Open(paths.EventsDB())
	if events != nil {
		defer events.Close()
	}
	now := time.Now()
	for _, sess := range active {
		if sess.TmuxSession != "" && t.HasSession(sess.TmuxSession) {
			continue
		}
		_ = store.MarkEnded(sess.ID, state.StateZombie, now)
		if events != nil {
			_ = events.Insert(&eventlog.Event{
				Agent:     sess.Name,
				SessionID: sess.ID,
				RunID:     sess.RunID,
				Type:      eventlog.TypeSessionEnd,
				Level:     eventlog.LevelWarn,
				Data:      `{"reason":"clean"}`,
			})
		}
	}

	if run, err := store.ActiveRun(); err == nil {
		_ = store.EndRun(run.ID, state.RunCompleted)
	}

	return store.PurgeSessions()
}

// reapBranches deletes legio-namespace branches with no worktree
// attached.
func reapBranches(paths workspace.Paths) (int64, error) {
	g := git.NewGit(paths.Root)
	out, err := g.Run("branch", "--list", worktree.BranchNamespace+"*", "--format=%(refname:short)")
	if err != nil {
		return 0, err
	}

	attached := make(map[string]bool)
	if entries, err := worktree.NewManager(paths.Root).List(); err == nil {
		for _, entry := range entries {
			attached[entry.Branch] = true
		}
	}

	var n int64
	for _, branch := range strings.Fields(out) {
		if attached[branch] {
			continue
		}
		if err := g.DeleteBranch(branch, true); err == nil {
			n++
		}
	}
	return n, nil
}

func removeEntries(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var n int64
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err == nil {
			n++
		}
	}
	return n
}
