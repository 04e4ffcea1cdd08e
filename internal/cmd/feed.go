package cmd

import (
	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/feed"
)

var feedFollow bool

var feedCmd = &cobra.Command{
	Use:     "feed",
	GroupID: GroupObservability,
	Short:   "Live activity feed",
	Long: `Show the activity feed. Without --follow, print the recent events
once; with --follow, open the full-screen viewer that tails the agent
roster and the event stream.`,
	Args: cobra.NoArgs,
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().BoolVar(&feedFollow, "follow", false, "Open the live viewer")
	rootCmd.AddCommand(feedCmd)
}

func runFeed(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}

	if feedFollow {
		return feed.Run(paths)
	}

	store, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Timeline(eventlog.Query{Limit: 50})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(events)
	}
	for _, e := range events {
		printEventLine(e)
	}
	return nil
}
