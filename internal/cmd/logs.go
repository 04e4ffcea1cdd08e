package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
)

var (
	logsAgent  string
	logsLevel  string
	logsSince  string
	logsUntil  string
	logsLimit  int
	logsFollow bool
	costsLive  bool
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: GroupObservability,
	Short:   "Query the event log",
	Args:    cobra.NoArgs,
	RunE:    runLogs,
}

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: GroupObservability,
	Short:   "Dump recent events",
	Args:    cobra.NoArgs,
	RunE:    runEvents,
}

var traceCmd = &cobra.Command{
	Use:     "trace",
	GroupID: GroupObservability,
	Short:   "Show the active run's event timeline",
	Args:    cobra.NoArgs,
	RunE:    runTrace,
}

var costsCmd = &cobra.Command{
	Use:     "costs",
	GroupID: GroupObservability,
	Short:   "Aggregate tool usage per tool",
	Args:    cobra.NoArgs,
	RunE:    runCosts,
}

func init() {
	logsCmd.Flags().StringVar(&logsAgent, "agent", "", "Filter by agent")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by level (debug|info|warn|error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Only events after this RFC3339 time")
	logsCmd.Flags().StringVar(&logsUntil, "until", "", "Only events before this RFC3339 time")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 100, "Maximum events")
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Keep printing new events")

	eventsCmd.Flags().IntVar(&logsLimit, "limit", 100, "Maximum events")
	costsCmd.Flags().StringVar(&logsAgent, "agent", "", "Filter by agent")
	costsCmd.Flags().BoolVar(&costsLive, "live", false, "Refresh every 2 seconds")

	rootCmd.AddCommand(logsCmd, eventsCmd, traceCmd, costsCmd)
}

func buildQuery() (eventlog.Query, error) {
	q := eventlog.Query{Limit: logsLimit, Level: logsLevel}
	if logsSince != "" {
		t, err := time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return q, errs.Validationf("invalid --since %q (want RFC3339)", logsSince)
		}
		q.Since = t
	}
	if logsUntil != "" {
		t, err := time.Parse(time.RFC3339, logsUntil)
		if err != nil {
			return q, errs.Validationf("invalid --until %q (want RFC3339)", logsUntil)
		}
		q.Until = t
	}
	return q, nil
}

func queryEvents(q eventlog.Query) ([]*eventlog.Event, error) {
	paths, err := projectPaths()
	if err != nil {
		return nil, err
	}
	store, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if logsAgent != "" {
		return store.ByAgent(logsAgent, q)
	}
	return store.Timeline(q)
}

func runLogs(cmd *cobra.Command, args []string) error {
	q, err := buildQuery()
	if err != nil {
		return err
	}

	events, err := queryEvents(q)
	if err != nil {
		return err
	}
	if jsonOutput && !logsFollow {
		return printJSON(events)
	}

	var lastID int64
	for _, e := range events {
		printEventLine(e)
		if e.ID > lastID {
			lastID = e.ID
		}
	}
	if !logsFollow {
		return nil
	}

	for {
		time.Sleep(2 * time.Second)
		follow := q
		follow.Limit = 200
		fresh, err := queryEvents(follow)
		if err != nil {
			continue
		}
		for _, e := range fresh {
			if e.ID <= lastID {
				continue
			}
			printEventLine(e)
			lastID = e.ID
		}
	}
}

func runEvents(cmd *cobra.Command, args []string) error {
	events, err := queryEvents(eventlog.Query{Limit: logsLimit})
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

func runTrace(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}

	sessions, err := state.Open(paths.SessionsDB())
	if err != nil {
		return err
	}
	run, err := sessions.ActiveRun()
	sessions.Close()
	if err != nil {
		return err
	}

	store, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ByRun(run.ID, eventlog.Query{Limit: 500})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{"run": run, "events": events})
	}
	fmt.Printf("run %s\n", run.ID)
	for _, e := range events {
		printEventLine(e)
	}
	return nil
}

func runCosts(cmd *cobra.Command, args []string) error {
	paths, err := projectPaths()
	if err != nil {
		return err
	}
	store, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		return err
	}
	defer store.Close()

	for {
		stats, err := store.ToolStats(logsAgent, time.Time{})
		if err != nil {
			return err
		}

		if jsonOutput && !costsLive {
			return printJSON(stats)
		}
		if len(stats) == 0 {
			fmt.Println(style.Dim.Render("no tool activity"))
		}
		for _, stat := range stats {
			fmt.Printf("%-20s %6d calls  avg %7.1fms  max %6dms\n",
				stat.Tool, stat.Count, stat.AvgMs, stat.MaxMs)
		}
		if !costsLive {
			return nil
		}
		time.Sleep(2 * time.Second)
		fmt.Println()
	}
}
