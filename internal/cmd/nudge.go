package cmd

import (
	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/nudge"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/tmux"
)

var (
	nudgeFrom  string
	nudgeForce bool
)

var nudgeCmd = &cobra.Command{
	Use:     "nudge <agent> [message]",
	GroupID: GroupMessaging,
	Short:   "Poke an agent's terminal with a short message",
	Long: `Send a keystroke nudge to an agent's tmux session. Nudges are
debounced per agent; --force bypasses the debounce window. A nudge to
a target that is not alive is spooled and delivered by the watchdog
once the target comes up.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runNudge,
}

func init() {
	nudgeCmd.Flags().StringVar(&nudgeFrom, "from", "orchestrator", "Sender recorded in the event log")
	nudgeCmd.Flags().BoolVar(&nudgeForce, "force", false, "Bypass the debounce window")
	rootCmd.AddCommand(nudgeCmd)
}

func runNudge(cmd *cobra.Command, args []string) error {
	agent := args[0]
	message := "check your mail"
	if len(args) > 1 {
		message = args[1]
	}

	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "nudge")

	sessions, err := state.Open(paths.SessionsDB())
	if err != nil {
		return err
	}
	defer sessions.Close()
	sessions.SetLegacyPath(paths.LegacySessionsFile())

	events, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return err
	}
	defer events.Close()

	dispatcher := nudge.NewDispatcher(tmux.New(), sessions, paths, events, cfg.Project.Name, log)
	result, err := dispatcher.Send(agent, message, nudgeForce)
	if err != nil {
		return err
	}

	// A target that is not alive yet gets spooled for the watchdog to
	// drain; a debounced nudge is intentionally dropped.
	if !result.Delivered && result.Reason != "debounced" {
		if err := nudge.Spool(paths, agent, message); err != nil {
			return err
		}
		result.Reason += " (spooled)"
	}

	if jsonOutput {
		return printJSON(result)
	}
	if result.Delivered {
		style.PrintSuccess("nudged %s", agent)
	} else {
		style.PrintWarning("not delivered: %s", result.Reason)
	}
	return nil
}
