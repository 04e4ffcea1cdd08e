package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/lifecycle"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/nudge"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/triage"
	"github.com/legio-dev/legio/internal/watchdog"
	"github.com/legio-dev/legio/internal/workspace"
)

var (
	coordinatorTask     string
	coordinatorAttach   bool
	coordinatorWatchdog bool
	coordinatorMonitor  bool
)

var coordinatorCmd = &cobra.Command{
	Use:     "coordinator",
	GroupID: GroupLifecycle,
	Short:   "Manage the coordinator agent and its run",
}

var coordinatorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Spawn a coordinator and open a new run",
	Long: `Spawn a coordinator agent and open the orchestration run rooted at
it. Only one run may be active at a time.

--attach attaches the terminal to the coordinator's tmux session.
--watchdog keeps a foreground watchdog loop running (for use without
'legio up'). --monitor additionally spawns a monitor agent.`,
	Args: cobra.NoArgs,
	RunE: runCoordinatorStart,
}

var coordinatorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminate the coordinator and complete the run",
	Args:  cobra.NoArgs,
	RunE:  runCoordinatorStop,
}

var coordinatorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active run and its coordinator",
	Args:  cobra.NoArgs,
	RunE:  runCoordinatorStatus,
}

func init() {
	coordinatorStartCmd.Flags().StringVar(&coordinatorTask, "task", "orchestration", "Task id for the coordinator")
	coordinatorStartCmd.Flags().BoolVar(&coordinatorAttach, "attach", false, "Attach to the coordinator's tmux session")
	coordinatorStartCmd.Flags().BoolVar(&coordinatorWatchdog, "watchdog", false, "Run a foreground watchdog loop")
	coordinatorStartCmd.Flags().BoolVar(&coordinatorMonitor, "monitor", false, "Also spawn a monitor agent")
	coordinatorCmd.AddCommand(coordinatorStartCmd, coordinatorStopCmd, coordinatorStatusCmd)
	rootCmd.AddCommand(coordinatorCmd)
}

func runCoordinatorStart(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "coordinator")

	engine, stores, err := openEngine(paths, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	if run, err := stores.Sessions.ActiveRun(); err == nil {
		return errs.Validationf("run %s is already active (coordinator %s)", run.ID, run.CoordinatorID)
	}

	sess, err := engine.Spawn(lifecycle.SpawnRequest{
		Capability: state.CapCoordinator,
		Task:       coordinatorTask,
	})
	if err != nil {
		return err
	}

	run, err := stores.Sessions.CreateRun(sess.ID)
	if err != nil {
		return err
	}
	sess.RunID = run.ID
	if err := stores.Sessions.Upsert(sess); err != nil {
		return err
	}
	if err := os.WriteFile(paths.CurrentRunFile(), []byte(run.ID+"\n"), 0o644); err != nil {
		log.Warn("writing current-run file failed", "error", err)
	}

	if coordinatorMonitor {
		if _, err := engine.Spawn(lifecycle.SpawnRequest{
			Capability: state.CapMonitor,
			Task:       coordinatorTask,
			Parent:     sess.Name,
		}); err != nil {
			log.Warn("spawning monitor failed", "error", err)
		}
	}

	if jsonOutput {
		if err := printJSON(map[string]interface{}{"session": sess, "run": run}); err != nil {
			return err
		}
	} else {
		style.PrintSuccess("coordinator %s started run %s", sess.Name, run.ID)
	}

	if coordinatorWatchdog {
		return runForegroundWatchdog(cmd, paths, cfg)
	}
	if coordinatorAttach {
		return attachTmux(sess.TmuxSession)
	}
	return nil
}

// runForegroundWatchdog supervises sessions without the full control
// plane, until interrupted.
func runForegroundWatchdog(cmd *cobra.Command, paths workspace.Paths, cfg *config.Config) error {
	log := newLogger(cfg, "watchdog")

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

	mailStore, err := mail.Open(paths.MailDB())
	if err != nil {
		return err
	}
	defer mailStore.Close()

	t := tmux.New()
	nudger := nudge.NewDispatcher(t, sessions, paths, events, cfg.Project.Name, log)
	triager := triage.New(cfg.Models.TriageTool, log)
	dog := watchdog.New(sessions, t, events, nudger, triager, mailStore, cfg, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	dog.Run(ctx)
	return nil
}

func attachTmux(session string) error {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return errs.Validationf("tmux not found on PATH")
	}
	attach := exec.Command(path, "attach-session", "-t", session)
	attach.Stdin = os.Stdin
	attach.Stdout = os.Stdout
	attach.Stderr = os.Stderr
	return attach.Run()
}

func runCoordinatorStop(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "coordinator")

	engine, stores, err := openEngine(paths, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	run, err := stores.Sessions.ActiveRun()
	if err != nil {
		return err
	}

	if run.CoordinatorID != "" {
		if sess, err := stores.Sessions.ByID(run.CoordinatorID); err == nil && sess.Active() {
			if err := engine.Terminate(sess.Name); err != nil {
				log.Warn("terminating coordinator failed", "agent", sess.Name, "error", err)
			}
		}
	}
	if err := stores.Sessions.EndRun(run.ID, state.RunCompleted); err != nil {
		return err
	}
	_ = os.Remove(paths.CurrentRunFile())

	if jsonOutput {
		return printJSON(map[string]interface{}{"run": run.ID, "status": state.RunCompleted})
	}
	style.PrintSuccess("completed run %s", run.ID)
	return nil
}

func runCoordinatorStatus(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	sessions, err := state.Open(paths.SessionsDB())
	if err != nil {
		return err
	}
	defer sessions.Close()

	run, err := sessions.ActiveRun()
	if err != nil {
		if errs.IsNotFound(err) {
			if jsonOutput {
				return printJSON(map[string]interface{}{"active": false})
			}
			fmt.Println(style.Dim.Render("no active run"))
			return nil
		}
		return err
	}

	var coordinator *state.Session
	if run.CoordinatorID != "" {
		coordinator, _ = sessions.ByID(run.CoordinatorID)
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{"active": true, "run": run, "coordinator": coordinator})
	}
	fmt.Printf("run %s started %s\n", run.ID, run.StartedAt.Format("15:04:05"))
	if coordinator != nil {
		fmt.Printf("coordinator %s (%s)\n", coordinator.Name, coordinator.State)
	}
	return nil
}
