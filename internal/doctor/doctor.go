// Package doctor runs health checks over a Legio workspace: required
// binaries, the .legio layout, the config file, the SQLite stores, and
// tmux session hygiene.
package doctor

import (
	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/config"
	"github.com/legio-dev/legio/internal/workspace"
)

// CheckStatus is the outcome of a single check.
type CheckStatus string

const (
	StatusOK      CheckStatus = "ok"
	StatusWarning CheckStatus = "warning"
	StatusError   CheckStatus = "error"
)

// Check categories, used to group report output.
const (
	CategoryInfrastructure = "infrastructure"
	CategoryWorkspace      = "workspace"
	CategoryStores         = "stores"
	CategorySessions       = "sessions"
)

// CheckResult is the outcome of one check run.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Details []string    `json:"details,omitempty"`
	FixHint string      `json:"fixHint,omitempty"`
}

// CheckContext carries the workspace a check inspects. Cfg is nil when
// the config file is missing or unparseable; checks that need it must
// tolerate that.
type CheckContext struct {
	Paths workspace.Paths
	Cfg   *config.Config
	Log   hclog.Logger
}

// Check is a single diagnosable condition.
type Check interface {
	Name() string
	Description() string
	Category() string
	Run(ctx *CheckContext) *CheckResult
}

// BaseCheck provides the metadata accessors shared by all checks.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
	CheckCategory    string
}

func (b *BaseCheck) Name() string        { return b.CheckName }
func (b *BaseCheck) Description() string { return b.CheckDescription }
func (b *BaseCheck) Category() string    { return b.CheckCategory }

// All returns the standard check suite in run order.
func All() []Check {
	return []Check{
		NewBinaryCheck("tmux", "agents run inside tmux sessions"),
		NewBinaryCheck("git", "worktrees and merges require git"),
		NewWorkspaceCheck(),
		NewConfigCheck(),
		NewStoresCheck(),
		NewOrphanSessionCheck(),
	}
}

// Report is the aggregated outcome of a suite run.
type Report struct {
	Results  []*CheckResult `json:"results"`
	OKCount  int            `json:"okCount"`
	Warnings int            `json:"warnings"`
	Errors   int            `json:"errors"`
}

// Healthy reports whether no check errored. Warnings do not fail a
// report.
func (r *Report) Healthy() bool { return r.Errors == 0 }

// RunAll executes every check and tallies the outcomes. Checks never
// abort the suite; a broken workspace should still produce a full
// report.
func RunAll(ctx *CheckContext, checks []Check) *Report {
	report := &Report{}
	for _, check := range checks {
		result := check.Run(ctx)
		if result == nil {
			continue
		}
		report.Results = append(report.Results, result)
		switch result.Status {
		case StatusOK:
			report.OKCount++
		case StatusWarning:
			report.Warnings++
		case StatusError:
			report.Errors++
		}
	}
	return report
}
