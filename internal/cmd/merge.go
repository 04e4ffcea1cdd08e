package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/merge"
	"github.com/legio-dev/legio/internal/style"
)

var (
	mergeBranchFlag string
	mergeInto       string
)

var mergeCmd = &cobra.Command{
	Use:     "merge",
	GroupID: GroupLifecycle,
	Short:   "Merge a queued agent branch into the target branch",
	Long: `Run the tiered merge pipeline. Without --branch the earliest pending
queue entry is dequeued; with --branch that branch is merged (enqueued
first if absent). The target is --into, then the session-branch file,
then the configured canonical branch.

Tiers: clean merge, deterministic auto-resolve, external resolution,
manual. A manual outcome leaves the working tree conflicted and sends
an escalation mail.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVar(&mergeBranchFlag, "branch", "", "Branch to merge (default: dequeue earliest pending)")
	mergeCmd.Flags().StringVar(&mergeInto, "into", "", "Target branch override")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "merge")

	var result *merge.Result
	if mergeBranchFlag != "" {
		result, err = mergeBranch(paths, cfg, log, mergeBranchFlag, mergeInto)
	} else {
		resolver, release, rerr := newResolver(paths, cfg, log)
		if rerr != nil {
			return rerr
		}
		defer release()

		entry, derr := resolver.Queue.Dequeue()
		if derr != nil {
			if errs.IsNotFound(derr) {
				return errs.Validationf("merge queue is empty")
			}
			return derr
		}
		target := merge.ResolveTarget(mergeInto, paths.SessionBranchFile(), canonicalBranch(cfg))
		result, err = resolver.Merge(entry, target)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}
	if result.Merged() {
		style.PrintSuccess("merged %s into %s (tier %s)", result.Branch, result.Target, result.Tier)
		return nil
	}
	style.PrintWarning("merge of %s failed at tier %s", result.Branch, result.Tier)
	if len(result.Conflicts) > 0 {
		for _, file := range result.Conflicts {
			fmt.Printf("  conflict: %s\n", file)
		}
	}
	return NewSilentExit(1)
}
