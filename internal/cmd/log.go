package cmd

import (
	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/eventlog"
)

var (
	logEventAgent    string
	logEventSession  string
	logEventRun      string
	logEventTool     string
	logEventToolArgs string
	logEventDuration int64
	logEventLevel    string
	logEventData     string
)

// logCmd is the hidden event producer the agent runtime calls. Like
// hook callbacks it must never fail the caller: store trouble is
// swallowed.
var logCmd = &cobra.Command{
	Use:    "log <type>",
	Hidden: true,
	Short:  "Append one event to the event store",
	Args:   cobra.ExactArgs(1),
	RunE:   runLog,
}

func init() {
	logCmd.Flags().StringVar(&logEventAgent, "agent", "", "Agent name")
	logCmd.Flags().StringVar(&logEventSession, "session", "", "Session id")
	logCmd.Flags().StringVar(&logEventRun, "run", "", "Run id")
	logCmd.Flags().StringVar(&logEventTool, "tool", "", "Tool name")
	logCmd.Flags().StringVar(&logEventToolArgs, "tool-args", "", "Tool arguments")
	logCmd.Flags().Int64Var(&logEventDuration, "duration-ms", 0, "Duration in milliseconds")
	logCmd.Flags().StringVar(&logEventLevel, "level", eventlog.LevelInfo, "Event level")
	logCmd.Flags().StringVar(&logEventData, "data", "", "Opaque JSON payload")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return nil
	}

	store, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return nil
	}
	defer store.Close()

	_ = store.Insert(&eventlog.Event{
		Agent:      logEventAgent,
		SessionID:  logEventSession,
		RunID:      logEventRun,
		Type:       args[0],
		Tool:       logEventTool,
		ToolArgs:   logEventToolArgs,
		DurationMs: logEventDuration,
		Level:      logEventLevel,
		Data:       logEventData,
	})
	return nil
}
