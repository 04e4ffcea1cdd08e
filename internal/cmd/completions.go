package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
)

var completionsCmd = &cobra.Command{
	Use:     "completions <bash|zsh|fish>",
	GroupID: GroupMaintenance,
	Short:   "Generate shell completions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		}
		return errs.Validationf("unsupported shell %q (want bash, zsh, or fish)", args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionsCmd)
}
