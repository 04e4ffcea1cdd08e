package cmd

import (
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/proc"
	"github.com/legio-dev/legio/internal/style"
)

var downCmd = &cobra.Command{
	Use:     "down",
	GroupID: GroupLifecycle,
	Short:   "Stop the running control plane",
	Args:    cobra.NoArgs,
	RunE:    runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}

	rec, err := loadServerRecord(paths)
	if err != nil {
		return err
	}

	p, err := os.FindProcess(rec.Pid)
	if err == nil {
		_ = p.Signal(syscall.SIGTERM)
	}

	// The server removes its own record on clean shutdown; wait briefly,
	// then reap whatever is left.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && proc.Alive(rec.Pid) {
		time.Sleep(100 * time.Millisecond)
	}
	if proc.Alive(rec.Pid) {
		proc.KillTree(rec.Pid, time.Second)
	}
	_ = os.Remove(paths.ServerFile())

	if jsonOutput {
		return printJSON(map[string]interface{}{"stopped": true, "pid": rec.Pid})
	}
	style.PrintSuccess("stopped server (pid %d)", rec.Pid)
	return nil
}
