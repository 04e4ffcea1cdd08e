package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	GroupID: GroupMaintenance,
	Short:   "Inspect and clean agent worktrees",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees in the legio branch namespace",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeList,
}

var worktreeCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove worktrees of completed and zombie sessions",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeClean,
}

func init() {
	worktreeCmd.AddCommand(worktreeListCmd, worktreeCleanCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func runWorktreeList(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	entries, err := worktree.NewManager(paths.Root).List()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println(style.Dim.Render("no agent worktrees"))
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-40s %s\n", e.Branch, e.Path)
	}
	return nil
}

func runWorktreeClean(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "worktree")

	engine, stores, err := openEngine(paths, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	removed, err := engine.CleanWorktrees()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]int{"removed": removed})
	}
	style.PrintSuccess("removed %d worktree(s)", removed)
	return nil
}
