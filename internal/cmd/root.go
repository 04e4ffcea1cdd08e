// Package cmd implements the legio CLI.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/style"
	"github.com/legio-dev/legio/internal/workspace"
)

// jsonOutput is the global --json flag.
var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "legio",
	Short: "Local multi-agent orchestrator",
	Long: `Legio spawns LLM coding agents in isolated git worktrees, routes
typed mail between them, supervises their liveness, and merges their
work back into the canonical branch through a tiered pipeline.

State lives under the project's .legio/ directory. Run 'legio init'
once per project, then 'legio up' to start the control plane.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON output")
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupLifecycle, Title: "Lifecycle:"},
		&cobra.Group{ID: GroupMessaging, Title: "Messaging:"},
		&cobra.Group{ID: GroupObservability, Title: "Observability:"},
		&cobra.Group{ID: GroupMaintenance, Title: "Maintenance:"},
	)
}

// Command groups for help output.
const (
	GroupLifecycle     = "lifecycle"
	GroupMessaging     = "messaging"
	GroupObservability = "observability"
	GroupMaintenance   = "maintenance"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	style.Init()
	if err := rootCmd.Execute(); err != nil {
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		reportError(err)
		return errs.ExitCode(err)
	}
	return 0
}

// reportError writes the structured stderr block: the message first,
// then the machine-readable kind and any context fields the taxonomy
// carries.
func reportError(err error) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"error": err.Error(),
			"kind":  string(errs.KindOf(err)),
		})
		fmt.Fprintln(os.Stderr, string(out))
		return
	}

	style.PrintError("%s", err.Error())
	fmt.Fprintf(os.Stderr, "  kind: %s\n", errs.KindOf(err))

	var agentErr *errs.AgentError
	if errors.As(err, &agentErr) {
		fmt.Fprintf(os.Stderr, "  agent: %s\n", agentErr.Agent)
	}
	var mergeErr *errs.MergeError
	if errors.As(err, &mergeErr) {
		fmt.Fprintf(os.Stderr, "  branch: %s\n", mergeErr.Branch)
		if mergeErr.Tier != "" {
			fmt.Fprintf(os.Stderr, "  tier: %s\n", mergeErr.Tier)
		}
	}
	var serverErr *errs.ServerError
	if errors.As(err, &serverErr) {
		fmt.Fprintf(os.Stderr, "  addr: %s\n", serverErr.Addr)
	}
}

// SilentExitError signals an exit code without an error message, for
// scripting commands where the code conveys status.
type SilentExitError struct {
	Code int
}

func (e *SilentExitError) Error() string {
	return fmt.Sprintf("exit %d", e.Code)
}

// NewSilentExit creates a SilentExitError with the given exit code.
func NewSilentExit(code int) *SilentExitError {
	return &SilentExitError{Code: code}
}

// IsSilentExit checks if an error is a SilentExitError and returns its
// code.
func IsSilentExit(err error) (int, bool) {
	var se *SilentExitError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// projectPaths locates the enclosing workspace. LEGIO_CWD overrides
// detection from the working directory.
func projectPaths() (workspace.Paths, error) {
	root, err := workspace.FindFromCwd()
	if err != nil {
		return workspace.Paths{}, errs.Validationf("not inside a Legio project (run 'legio init' first)")
	}
	return workspace.NewPaths(root), nil
}

// loadProject resolves the workspace and its configuration together.
func loadProject() (workspace.Paths, *config.Config, error) {
	paths, err := projectPaths()
	if err != nil {
		return workspace.Paths{}, nil, err
	}
	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		return workspace.Paths{}, nil, err
	}
	return paths, cfg, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
