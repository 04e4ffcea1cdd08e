package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
)

var (
	runStatusFilter string
	runLimit        int
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: GroupObservability,
	Short:   "Inspect orchestration runs",
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunList,
}

var runShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one run and its sessions (default: the active run)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunShow,
}

var runCompleteCmd = &cobra.Command{
	Use:   "complete [id]",
	Short: "Mark a run completed (default: the active run)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunComplete,
}

func init() {
	runListCmd.Flags().StringVar(&runStatusFilter, "status", "", "Filter by status (active|completed|aborted)")
	runListCmd.Flags().IntVar(&runLimit, "limit", 20, "Maximum runs to list")
	runCmd.AddCommand(runListCmd, runShowCmd, runCompleteCmd)
	rootCmd.AddCommand(runCmd)
}

func openSessionsStore() (*state.Store, error) {
	paths, err := projectPaths()
	if err != nil {
		return nil, err
	}
	store, err := state.Open(paths.SessionsDB())
	if err != nil {
		return nil, err
	}
	store.SetLegacyPath(paths.LegacySessionsFile())
	return store, nil
}

func runRunList(cmd *cobra.Command, args []string) error {
	store, err := openSessionsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(state.RunStatus(runStatusFilter), runLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println(style.Dim.Render("no runs"))
		return nil
	}
	for _, run := range runs {
		ended := ""
		if !run.EndedAt.IsZero() {
			ended = run.EndedAt.Format("15:04:05")
		}
		fmt.Printf("%-14s %-10s %s %s\n", run.ID, run.Status,
			run.StartedAt.Format("2006-01-02 15:04:05"), ended)
	}
	return nil
}

func resolveRun(store *state.Store, args []string) (*state.Run, error) {
	if len(args) > 0 {
		return store.Run(args[0])
	}
	return store.ActiveRun()
}

func runRunShow(cmd *cobra.Command, args []string) error {
	store, err := openSessionsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := resolveRun(store, args)
	if err != nil {
		return err
	}
	sessions, err := store.ByRun(run.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{"run": run, "sessions": sessions})
	}
	fmt.Printf("%s  %s  started %s\n", run.ID, run.Status,
		run.StartedAt.Format("2006-01-02 15:04:05"))
	for _, sess := range sessions {
		fmt.Printf("  %-24s %-10s %s\n", sess.Name, sess.State, sess.TaskID)
	}
	return nil
}

func runRunComplete(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	store, err := openSessionsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := resolveRun(store, args)
	if err != nil {
		return err
	}
	if err := store.EndRun(run.ID, state.RunCompleted); err != nil {
		return err
	}
	_ = os.Remove(paths.CurrentRunFile())

	if jsonOutput {
		return printJSON(map[string]interface{}{"run": run.ID, "status": state.RunCompleted})
	}
	style.PrintSuccess("completed run %s", run.ID)
	return nil
}
