package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/autopilot"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/style"
)

var autopilotCmd = &cobra.Command{
	Use:     "autopilot",
	GroupID: GroupLifecycle,
	Short:   "Control the autopilot mail loop in the running server",
	Long: `Start, stop, or inspect the autopilot daemon. Autopilot lives inside
the 'legio up' process; these commands drive it over the local HTTP
API, so the server must be running.`,
}

var autopilotStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start autopilot ticking",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return autopilotPost("start") },
}

var autopilotStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop autopilot ticking",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return autopilotPost("stop") },
}

var autopilotStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show autopilot state and recent actions",
	Args:  cobra.NoArgs,
	RunE:  runAutopilotStatus,
}

func init() {
	autopilotCmd.AddCommand(autopilotStartCmd, autopilotStopCmd, autopilotStatusCmd)
	rootCmd.AddCommand(autopilotCmd)
}

func autopilotPost(action string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	client, base, err := serverClient(paths)
	if err != nil {
		return err
	}

	resp, err := client.Post(base+"/api/autopilot/"+action, "application/json", nil)
	if err != nil {
		return &errs.ServerError{Addr: base, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Validationf("server returned %s", resp.Status)
	}

	if jsonOutput {
		var state autopilot.State
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return err
		}
		return printJSON(state)
	}
	style.PrintSuccess("autopilot %s", action)
	return nil
}

func runAutopilotStatus(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	client, base, err := serverClient(paths)
	if err != nil {
		return err
	}

	resp, err := client.Get(base + "/api/autopilot/status")
	if err != nil {
		return &errs.ServerError{Addr: base, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Validationf("server returned %s", resp.Status)
	}

	var state autopilot.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(state)
	}
	if state.Running {
		style.PrintSuccess("autopilot running (ticks: %d)", state.TickCount)
	} else {
		style.PrintWarning("autopilot stopped")
	}
	for _, action := range state.Actions {
		fmt.Printf("  %s  %-12s %s\n", action.At.Format("15:04:05"), action.Type, action.Details)
	}
	return nil
}
