package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/autopilot"
	"github.com/legio-dev/legio/internal/broadcast"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/lifecycle"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/nudge"
	"github.com/legio-dev/legio/internal/server"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/triage"
	"github.com/legio-dev/legio/internal/util"
	"github.com/legio-dev/legio/internal/watchdog"
	"github.com/legio-dev/legio/internal/worktree"
)

// DefaultPort is the control plane's default listen port.
const DefaultPort = 4517

var (
	upPort   int
	upHost   string
	upNoOpen bool
	upForce  bool
)

var upCmd = &cobra.Command{
	Use:     "up",
	GroupID: GroupLifecycle,
	Short:   "Start the control plane: server, watchdog, autopilot, broadcaster",
	Long: `Start the Legio control plane in the foreground. This runs the HTTP/
WebSocket server, the liveness watchdog, the autopilot mail loop, and
the observability broadcaster in one process until interrupted.

A server.json record under .legio lets sibling commands find the
running instance. --force replaces a running instance.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	upCmd.Flags().IntVar(&upPort, "port", DefaultPort, "Port to listen on")
	upCmd.Flags().StringVar(&upHost, "host", "127.0.0.1", "Host to bind")
	upCmd.Flags().BoolVar(&upNoOpen, "no-open", false, "Do not open the dashboard in a browser")
	upCmd.Flags().BoolVar(&upForce, "force", false, "Replace a running instance")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}

	if rec, err := loadServerRecord(paths); err == nil {
		if !upForce {
			return errs.Validationf("server already running at %s (pid %d); use --force to replace", rec.Addr, rec.Pid)
		}
		if p, err := os.FindProcess(rec.Pid); err == nil {
			_ = p.Signal(syscall.SIGTERM)
			time.Sleep(time.Second)
		}
	}

	log := newLogger(cfg, "legio")
	addr := fmt.Sprintf("%s:%d", upHost, upPort)

	// Long-lived store handles for the in-process loops. Request-scoped
	// handlers open their own.
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
	if session := orchestratorSessionName(); session != "" {
		if err := nudge.RegisterOrchestrator(paths, session); err != nil {
			log.Warn("registering orchestrator session failed", "error", err)
		}
	}

	nudger := nudge.NewDispatcher(t, sessions, paths, events, cfg.Project.Name, log)
	triager := triage.New(cfg.Models.TriageTool, log)
	dog := watchdog.New(sessions, t, events, nudger, triager, mailStore, cfg, log)

	engine := lifecycle.New(cfg, paths, sessions, worktree.NewManager(paths.Root), t, events, log)

	mergeFn := func(branch string) error {
		_, err := mergeBranch(paths, cfg, log, branch, "")
		return err
	}
	pilot := autopilot.New(cfg, paths, mergeFn, engine.CleanWorktrees, log)
	pilot.Start()
	defer pilot.Shutdown()

	caster := broadcast.New(paths, log)
	caster.AutopilotState = pilot.State

	srv := server.New(cfg, paths, caster, pilot, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := saveServerRecord(paths, addr); err != nil {
		return err
	}
	defer os.Remove(paths.ServerFile())

	go dog.Run(ctx)
	go caster.Run(ctx)

	url := "http://" + addr
	style.PrintSuccess("legio up on %s", url)
	if !upNoOpen {
		openBrowser(url)
	}

	return srv.Start(ctx, addr)
}

// openBrowser is best-effort; a headless host just skips it.
func openBrowser(url string) {
	for _, opener := range []string{"xdg-open", "open"} {
		if _, err := exec.LookPath(opener); err == nil {
			_ = exec.Command(opener, url).Start()
			return
		}
	}
}

func orchestratorSessionName() string {
	if os.Getenv("TMUX") == "" {
		return ""
	}
	out, err := util.ExecWithOutput("", "tmux", "display-message", "-p", "#S")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
