package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/mergeq"
	"github.com/legio-dev/legio/internal/overlay"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupObservability,
	Short:   "Show sessions, the active run, and queue depth",
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

var (
	inspectFollow bool
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <agent>",
	GroupID: GroupObservability,
	Short:   "Show one agent's session, identity, and recent events",
	Args:    cobra.ExactArgs(1),
	RunE:    runInspect,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "Include completed sessions and queue entries")
	inspectCmd.Flags().BoolVar(&inspectFollow, "follow", false, "Keep printing new events")
	rootCmd.AddCommand(statusCmd, inspectCmd)
}

type statusReport struct {
	Sessions   []*state.Session `json:"sessions"`
	ActiveRun  *state.Run       `json:"activeRun,omitempty"`
	QueueDepth int              `json:"queueDepth"`
	Unread     int              `json:"unread"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	report := statusReport{}

	if store, err := state.Open(paths.SessionsDB()); err == nil {
		store.SetLegacyPath(paths.LegacySessionsFile())
		if statusVerbose {
			report.Sessions, _ = store.All()
		} else {
			report.Sessions, _ = store.Active()
		}
		report.ActiveRun, _ = store.ActiveRun()
		store.Close()
	}
	if queue, err := mergeq.Open(paths.MergeQueueDB()); err == nil {
		if pending, err := queue.List(mergeq.StatusPending); err == nil {
			report.QueueDepth = len(pending)
		}
		queue.Close()
	}
	if store, err := mail.Open(paths.MailDB()); err == nil {
		report.Unread, _ = store.UnreadCount("coordinator")
		store.Close()
	}

	if jsonOutput {
		return printJSON(report)
	}

	if report.ActiveRun != nil {
		fmt.Printf("run %s (started %s)\n", report.ActiveRun.ID,
			report.ActiveRun.StartedAt.Format(time.RFC3339))
	} else {
		fmt.Println(style.Dim.Render("no active run"))
	}

	if len(report.Sessions) == 0 {
		fmt.Println(style.Dim.Render("no agent sessions"))
	}
	for _, sess := range report.Sessions {
		marker := style.Success
		switch sess.State {
		case state.StateStalled:
			marker = style.Warning
		case state.StateZombie:
			marker = style.Error
		case state.StateCompleted:
			marker = style.Dim
		}
		fmt.Printf("  %-24s %-10s %s task=%s\n",
			sess.Name, marker.Render(string(sess.State)),
			sess.LastActivity.Format("15:04:05"), sess.TaskID)
	}

	fmt.Printf("merge queue: %d pending, mail: %d unread\n", report.QueueDepth, report.Unread)
	return nil
}

type inspectReport struct {
	Session  *state.Session    `json:"session"`
	Identity *overlay.Identity `json:"identity,omitempty"`
	Events   []*eventlog.Event `json:"events"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	agent := args[0]
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	store, err := state.Open(paths.SessionsDB())
	if err != nil {
		return err
	}
	store.SetLegacyPath(paths.LegacySessionsFile())
	sess, err := store.ByName(agent)
	store.Close()
	if err != nil {
		return err
	}

	report := inspectReport{Session: sess}
	if identity, err := overlay.LoadIdentity(paths.IdentityFile(agent), agent); err == nil {
		report.Identity = identity
	}

	events, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return err
	}
	defer events.Close()

	report.Events, err = events.ByAgent(agent, eventlog.Query{Since: time.Now().Add(-time.Hour), Limit: 50})
	if err != nil && !errs.IsNotFound(err) {
		return err
	}

	if jsonOutput && !inspectFollow {
		return printJSON(report)
	}

	fmt.Printf("%s  %s  branch %s\n", sess.Name, sess.State, sess.Branch)
	fmt.Printf("  worktree: %s\n", sess.Worktree)
	fmt.Printf("  task: %s  depth: %d  escalation: %d\n", sess.TaskID, sess.Depth, sess.Escalation)
	if report.Identity != nil {
		fmt.Printf("  completed sessions: %d\n", report.Identity.SessionsCompleted)
	}
	var lastID int64
	for _, e := range report.Events {
		printEventLine(e)
		if e.ID > lastID {
			lastID = e.ID
		}
	}
	if !inspectFollow {
		return nil
	}

	for {
		time.Sleep(2 * time.Second)
		fresh, err := events.ByAgent(agent, eventlog.Query{Since: time.Now().Add(-time.Hour), Limit: 200})
		if err != nil {
			continue
		}
		for _, e := range fresh {
			if e.ID <= lastID {
				continue
			}
			printEventLine(e)
			lastID = e.ID
		}
	}
}

func printEventLine(e *eventlog.Event) {
	subject := e.Type
	if e.Tool != "" {
		subject = fmt.Sprintf("%s %s", e.Type, e.Tool)
	}
	fmt.Fprintf(os.Stdout, "  %s  %-12s %s %s\n",
		e.Timestamp.Format("15:04:05"), e.Level, subject, e.Data)
}
