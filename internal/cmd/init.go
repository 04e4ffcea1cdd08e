package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/setup"
	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupLifecycle,
	Short:   "Initialize the .legio workspace in the current directory",
	Long: `Create the .legio directory layout: config.yaml, worktree and
agent-def directories, and a gitignore that keeps runtime state out of
the project's history.

Re-running against an existing workspace is an error unless --force is
given. --force rewrites config.yaml and the gitignore but never deletes
existing stores or worktrees.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize an existing workspace")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root := os.Getenv("LEGIO_CWD")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = cwd
	}

	if err := setup.Init(root, initForce); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(setup.Inspect(workspace.NewPaths(root)))
	}
	style.PrintSuccess("initialized %s", workspace.NewPaths(root).Legio())
	return nil
}
