package cmd

import (
	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/lifecycle"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
)

var (
	slingTask      string
	slingParent    string
	slingFileScope []string
)

var slingCmd = &cobra.Command{
	Use:     "sling <capability>",
	GroupID: GroupLifecycle,
	Short:   "Spawn an agent with the given capability",
	Long: `Spawn a new agent: create its worktree and branch, write its overlay
and identity, record the session, start the tmux session running the
agent binary, and inject the activation beacon.

Capabilities: scout, builder, reviewer, lead, merger, coordinator,
supervisor, monitor.

Examples:
  legio sling builder --task issue-42
  legio sling reviewer --task issue-42 --parent builder-a1b2c3`,
	Args: cobra.ExactArgs(1),
	RunE: runSling,
}

func init() {
	slingCmd.Flags().StringVar(&slingTask, "task", "", "Task id the agent works on (required)")
	slingCmd.Flags().StringVar(&slingParent, "parent", "", "Parent agent name")
	slingCmd.Flags().StringSliceVar(&slingFileScope, "scope", nil, "File scope globs for the agent")
	_ = slingCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(slingCmd)
}

func runSling(cmd *cobra.Command, args []string) error {
	capability := state.Capability(args[0])
	if !capability.Valid() {
		return errs.Validationf("unknown capability %q", args[0])
	}

	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sling")

	engine, stores, err := openEngine(paths, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	sess, err := engine.Spawn(lifecycle.SpawnRequest{
		Capability: capability,
		Task:       slingTask,
		Parent:     slingParent,
		FileScope:  slingFileScope,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(sess)
	}
	style.PrintSuccess("spawned %s (session %s, branch %s)", sess.Name, sess.ID, sess.Branch)
	return nil
}
