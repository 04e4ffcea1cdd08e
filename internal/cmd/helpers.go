package cmd

import (
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/git"
	"github.com/legio-dev/legio/internal/lifecycle"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/merge"
	"github.com/legio-dev/legio/internal/mergeq"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/tmux"
	"github.com/legio-dev/legio/internal/workspace"
	"github.com/legio-dev/legio/internal/worktree"
)

// newLogger builds the hclog logger the long-lived loops share.
func newLogger(cfg *config.Config, name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.LevelFromString(cfg.Logging.Level),
		Output: os.Stderr,
	})
}

// engineStores holds the handles a lifecycle engine borrows. Close
// must be called once the engine is done.
type engineStores struct {
	Sessions *state.Store
	Events   *eventlog.Store
}

func (s *engineStores) Close() {
	if s.Events != nil {
		s.Events.Close()
	}
	if s.Sessions != nil {
		s.Sessions.Close()
	}
}

// openEngine builds a lifecycle engine over freshly opened stores.
func openEngine(paths workspace.Paths, cfg *config.Config, log hclog.Logger) (*lifecycle.Engine, *engineStores, error) {
	sessions, err := state.Open(paths.SessionsDB())
	if err != nil {
		return nil, nil, err
	}
	sessions.SetLegacyPath(paths.LegacySessionsFile())

	events, err := eventlog.Open(paths.EventsDB())
	if err != nil {
		sessions.Close()
		return nil, nil, err
	}

	stores := &engineStores{Sessions: sessions, Events: events}
	engine := lifecycle.New(cfg, paths, sessions, worktree.NewManager(paths.Root), tmux.New(), events, log)
	return engine, stores, nil
}

// mailNotifier delivers merge outcome mail best-effort: store trouble
// is logged, never surfaced.
func mailNotifier(path string, log hclog.Logger) merge.Notifier {
	return func(m *mail.Message) {
		store, err := mail.Open(path)
		if err != nil {
			log.Warn("opening mail store for notification failed", "error", err)
			return
		}
		defer store.Close()
		if err := store.Insert(m); err != nil {
			log.Warn("sending merge notification failed", "error", err)
		}
	}
}

// newResolver wires the tiered merge pipeline over freshly opened
// queue and history handles. The returned closer releases both.
func newResolver(paths workspace.Paths, cfg *config.Config, log hclog.Logger) (*merge.Resolver, func(), error) {
	queue, err := mergeq.Open(paths.MergeQueueDB())
	if err != nil {
		return nil, nil, err
	}
	history, err := merge.OpenHistory(paths.MergeQueueDB())
	if err != nil {
		queue.Close()
		return nil, nil, err
	}

	resolver := &merge.Resolver{
		Git:           git.NewGit(paths.Root),
		Queue:         queue,
		History:       history,
		Log:           log,
		Notify:        mailNotifier(paths.MailDB(), log),
		ReimagineTool: cfg.Merge.ReimagineTool,
	}
	closer := func() {
		history.Close()
		queue.Close()
	}
	return resolver, closer, nil
}

// mergeBranch runs the full tiered pipeline for one branch, enqueueing
// it first if it is not already queued.
func mergeBranch(paths workspace.Paths, cfg *config.Config, log hclog.Logger, branch, into string) (*merge.Result, error) {
	resolver, release, err := newResolver(paths, cfg, log)
	if err != nil {
		return nil, err
	}
	defer release()

	entry := &mergeq.Entry{Branch: branch}
	if _, err := resolver.Queue.Enqueue(entry); err != nil && !errs.IsValidation(err) {
		return nil, err
	}

	target := merge.ResolveTarget(into, paths.SessionBranchFile(), canonicalBranch(cfg))
	return resolver.Merge(entry, target)
}

// canonicalBranch picks the configured merge target, falling back to
// the project's default branch.
func canonicalBranch(cfg *config.Config) string {
	if cfg.Merge.TargetBranch != "" {
		return cfg.Merge.TargetBranch
	}
	return cfg.Project.DefaultBranch
}
