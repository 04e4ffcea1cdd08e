package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/hooks"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/overlay"
	"github.com/legio-dev/legio/internal/state"
)

var (
	primeAgent   string
	primeCompact bool
)

var primeCmd = &cobra.Command{
	Use:     "prime",
	GroupID: GroupLifecycle,
	Short:   "Print an agent's working context",
	Long: `Assemble the briefing an agent reads to (re)orient itself: identity,
current task and branch, and unread mail. Run from inside a worktree
the agent is inferred from the path; otherwise pass --agent.

--compact additionally includes the saved checkpoint, for resuming
after a context compaction.`,
	Args: cobra.NoArgs,
	RunE: runPrime,
}

func init() {
	primeCmd.Flags().StringVar(&primeAgent, "agent", "", "Agent to prime (default: inferred from cwd)")
	primeCmd.Flags().BoolVar(&primeCompact, "compact", false, "Include the saved checkpoint")
	rootCmd.AddCommand(primeCmd)
}

type primeReport struct {
	Agent      string              `json:"agent"`
	Session    *state.Session      `json:"session,omitempty"`
	Identity   *overlay.Identity   `json:"identity,omitempty"`
	Checkpoint *overlay.Checkpoint `json:"checkpoint,omitempty"`
	Unread     []*mail.Message     `json:"unread,omitempty"`
}

func runPrime(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	agent := primeAgent
	if agent == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		agent = hooks.AgentFromCwd(paths, cwd)
	}
	if agent == "" {
		return errs.Validationf("not inside an agent worktree; pass --agent")
	}

	report := primeReport{Agent: agent}

	if store, err := state.Open(paths.SessionsDB()); err == nil {
		report.Session, _ = store.ByName(agent)
		store.Close()
	}
	if identity, err := overlay.LoadIdentity(paths.IdentityFile(agent), agent); err == nil {
		report.Identity = identity
	}
	if primeCompact {
		report.Checkpoint, _ = overlay.LoadCheckpoint(paths.CheckpointFile(agent))
	}
	if store, err := mail.Open(paths.MailDB()); err == nil {
		report.Unread, _ = store.Unread(agent)
		store.Close()
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("# %s\n\n", agent)
	if report.Session != nil {
		fmt.Printf("Task: %s\nBranch: %s\nState: %s\n",
			report.Session.TaskID, report.Session.Branch, report.Session.State)
	}
	if report.Identity != nil {
		fmt.Printf("Capability: %s\nSessions completed: %d\n",
			report.Identity.Capability, report.Identity.SessionsCompleted)
		if len(report.Identity.RecentTasks) > 0 {
			fmt.Printf("Recent tasks: %s\n", strings.Join(report.Identity.RecentTasks, ", "))
		}
	}
	if report.Checkpoint != nil {
		fmt.Printf("\n## Checkpoint\n\nProgress: %s\n", report.Checkpoint.Progress)
		if len(report.Checkpoint.PendingWork) > 0 {
			fmt.Printf("Pending: %s\n", strings.Join(report.Checkpoint.PendingWork, ", "))
		}
		if len(report.Checkpoint.FilesModified) > 0 {
			fmt.Printf("Files touched: %s\n", strings.Join(report.Checkpoint.FilesModified, ", "))
		}
	}
	if len(report.Unread) > 0 {
		fmt.Printf("\n## Unread mail (%d)\n\n", len(report.Unread))
		for _, m := range report.Unread {
			fmt.Printf("- [%s] %s: %s\n", m.ID, m.From, m.Subject)
		}
	}
	return nil
}
