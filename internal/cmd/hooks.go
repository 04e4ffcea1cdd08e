package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/hooks"
	"github.com/legio-dev/legio/internal/style"
)

var hooksCmd = &cobra.Command{
	Use:     "hooks",
	GroupID: GroupMaintenance,
	Short:   "Manage the agent runtime's lifecycle hooks",
}

var hooksForce bool

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Wire legio hook commands into the runtime settings",
	Args:  cobra.NoArgs,
	RunE:  runHooksInstall,
}

var hooksUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove legio hook commands from the runtime settings",
	Args:  cobra.NoArgs,
	RunE:  runHooksUninstall,
}

var hooksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which hook events are wired",
	Args:  cobra.NoArgs,
	RunE:  runHooksStatus,
}

// hookCmd is the hidden callback the runtime invokes at its hook
// points. It must always exit 0: a broken hook must never break the
// agent. The only output is an explicit block decision.
var hookCmd = &cobra.Command{
	Use:    "hook <event>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   runHook,
}

func init() {
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "Rewrite settings even when the existing file does not parse")
	hooksCmd.AddCommand(hooksInstallCmd, hooksUninstallCmd, hooksStatusCmd)
	rootCmd.AddCommand(hooksCmd, hookCmd)
}

func runHooksInstall(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	if err := hooks.Install(paths, hooksForce); err != nil {
		return err
	}
	if jsonOutput {
		status, _ := hooks.Status(paths)
		return printJSON(status)
	}
	style.PrintSuccess("hooks installed")
	return nil
}

func runHooksUninstall(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	if err := hooks.Uninstall(paths); err != nil {
		return err
	}
	if jsonOutput {
		status, _ := hooks.Status(paths)
		return printJSON(status)
	}
	style.PrintSuccess("hooks uninstalled")
	return nil
}

func runHooksStatus(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	status, err := hooks.Status(paths)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(status)
	}
	for event, wired := range status {
		mark := style.Dim.Render("not wired")
		if wired {
			mark = style.Success.Render("wired")
		}
		fmt.Printf("%-18s %s\n", event, mark)
	}
	return nil
}

func runHook(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return nil
	}

	in, err := hooks.ReadInput(os.Stdin)
	if err != nil {
		return nil
	}
	if in.EventName == "" {
		in.EventName = args[0]
	}

	processor := &hooks.Processor{
		Paths: paths,
		Agent: hooks.AgentFromCwd(paths, in.Cwd),
	}
	if decision := processor.Apply(in); decision != nil {
		out, err := json.Marshal(decision)
		if err == nil {
			fmt.Println(string(out))
		}
	}
	return nil
}
