package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/doctor"
	"github.com/legio-dev/legio/internal/style"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: GroupMaintenance,
	Short:   "Check the workspace and its dependencies",
	Args:    cobra.NoArgs,
	RunE:    runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}

	// A broken config must not stop the suite; the config check reports
	// it.
	cfg, cfgErr := config.Load(paths.ConfigFile())
	if cfgErr != nil {
		cfg = nil
	}
	ctx := &doctor.CheckContext{Paths: paths, Cfg: cfg}

	report := doctor.RunAll(ctx, doctor.All())

	if jsonOutput {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		for _, result := range report.Results {
			mark := style.Success.Render("ok")
			switch result.Status {
			case doctor.StatusWarning:
				mark = style.Warning.Render("warn")
			case doctor.StatusError:
				mark = style.Error.Render("fail")
			}
			fmt.Printf("%-6s %-24s %s\n", mark, result.Name, result.Message)
			for _, detail := range result.Details {
				fmt.Printf("       %s\n", detail)
			}
			if result.FixHint != "" {
				fmt.Printf("       %s\n", style.Dim.Render(result.FixHint))
			}
		}
		fmt.Printf("%d ok, %d warnings, %d errors\n",
			report.OKCount, report.Warnings, report.Errors)
	}

	if !report.Healthy() {
		return NewSilentExit(1)
	}
	return nil
}
