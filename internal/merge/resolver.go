// Package merge integrates queued agent branches into a target branch
// through escalating resolution tiers.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/git"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/mergeq"
	"github.com/legio-dev/legio/internal/util"
)

// reimagineTimeout bounds one external resolution call per file.
const reimagineTimeout = 120 * time.Second

// Notifier delivers merge outcome mail. Delivery is best-effort and
// must never block a status transition, so implementations swallow
// their own errors.
type Notifier func(m *mail.Message)

// Result reports how one merge attempt ended.
type Result struct {
	Branch    string        `json:"branch"`
	Target    string        `json:"target"`
	Status    mergeq.Status `json:"status"`
	Tier      mergeq.Tier   `json:"tier,omitempty"`
	Conflicts []string      `json:"conflicts,omitempty"`
}

// Merged reports whether the attempt integrated the branch.
func (r *Result) Merged() bool { return r.Status == mergeq.StatusMerged }

// Resolver drives the tiered integration of one branch at a time.
type Resolver struct {
	Git           *git.Git
	Queue         *mergeq.Queue
	History       *History
	Log           hclog.Logger
	Notify        Notifier
	ReimagineTool string
	Sender        string
}

// ResolveTarget picks the branch to merge into: an explicit override,
// then the per-session branch file, then the canonical branch.
func ResolveTarget(into, sessionBranchFile, canonical string) string {
	if into != "" {
		return into
	}
	if data, err := os.ReadFile(sessionBranchFile); err == nil {
		if branch := strings.TrimSpace(string(data)); branch != "" {
			return branch
		}
	}
	return canonical
}

// Merge integrates entry.Branch into target, walking the tiers in
// order. The queue entry's status and tier are updated before return
// regardless of outcome. A transport or git failure returns a merge
// error carrying the branch and tier; exhausting the tiers is the
// manual outcome, not an error.
func (r *Resolver) Merge(entry *mergeq.Entry, target string) (*Result, error) {
	branch := entry.Branch
	result := &Result{Branch: branch, Target: target}
	log := r.Log.With("branch", branch, "target", target)

	exists, err := r.Git.BranchExists(branch)
	if err != nil {
		return nil, r.fail(result, mergeq.TierCleanMerge, err)
	}
	if !exists {
		return nil, r.fail(result, mergeq.TierCleanMerge, errs.NotFound("branch", branch))
	}

	clean, err := r.Git.IsClean()
	if err != nil {
		return nil, r.fail(result, mergeq.TierCleanMerge, err)
	}
	if !clean {
		return nil, r.fail(result, mergeq.TierCleanMerge,
			fmt.Errorf("working tree has uncommitted changes"))
	}
	if err := r.Git.Checkout(target); err != nil {
		return nil, r.fail(result, mergeq.TierCleanMerge, err)
	}
	preMerge, err := r.Git.Rev("HEAD")
	if err != nil {
		return nil, r.fail(result, mergeq.TierCleanMerge, err)
	}

	message := fmt.Sprintf("Merge %s into %s", branch, target)

	// Tier 1: clean merge.
	if err := r.Git.Merge(branch, message); err == nil {
		log.Info("merged", "tier", mergeq.TierCleanMerge)
		return r.settle(result, mergeq.TierCleanMerge, preMerge)
	}

	conflicts, err := r.Git.ConflictingFiles()
	if err != nil {
		_ = r.Git.AbortMerge()
		return nil, r.fail(result, mergeq.TierCleanMerge, err)
	}
	if len(conflicts) == 0 {
		// The merge failed without conflicts: a plain git error.
		_ = r.Git.AbortMerge()
		return nil, r.fail(result, mergeq.TierCleanMerge,
			fmt.Errorf("merge failed without conflicts"))
	}
	result.Conflicts = conflicts
	log.Info("merge conflicted", "files", len(conflicts))

	// Tier 2: deterministic auto-resolve.
	if ok := r.tryAutoResolve(log, branch, conflicts, message); ok {
		log.Info("merged", "tier", mergeq.TierAutoResolve)
		return r.settle(result, mergeq.TierAutoResolve, preMerge)
	}

	// Tier 3: external resolution, gated on per-file track record.
	if ok := r.tryReimagine(log, branch, conflicts, message); ok {
		log.Info("merged", "tier", mergeq.TierReimagine)
		return r.settle(result, mergeq.TierReimagine, preMerge)
	}

	// Tier 4: manual. The working tree stays conflicted for a human.
	for _, file := range conflicts {
		r.record(file, branch, mergeq.TierManual, OutcomeFailed, "")
	}
	if err := r.Queue.UpdateStatus(branch, mergeq.StatusFailed, mergeq.TierManual); err != nil {
		log.Warn("updating queue entry failed", "error", err)
	}
	result.Status = mergeq.StatusFailed
	result.Tier = mergeq.TierManual
	r.notifyFailed(branch, target, conflicts, true)
	log.Warn("merge left for manual resolution", "files", len(conflicts))
	return result, nil
}

// settle commits the tier outcome: verifies the tree is clean, updates
// the queue entry, and sends the merged notification. A dirty tree
// after an accepted tier is rolled back and reported as a failure.
func (r *Resolver) settle(result *Result, tier mergeq.Tier, preMerge string) (*Result, error) {
	clean, err := r.Git.IsClean()
	if err != nil {
		return nil, r.fail(result, tier, err)
	}
	if !clean {
		_ = r.Git.ResetHard(preMerge)
		return nil, r.fail(result, tier,
			fmt.Errorf("merge left uncommitted tracked changes, rolled back"))
	}
	if err := r.Queue.UpdateStatus(result.Branch, mergeq.StatusMerged, tier); err != nil {
		return nil, r.fail(result, tier, err)
	}
	result.Status = mergeq.StatusMerged
	result.Tier = tier
	if r.Notify != nil {
		m := mail.NewMessage(r.sender(), "coordinator",
			fmt.Sprintf("Merged branch: %s", result.Branch),
			fmt.Sprintf("Branch %s merged into %s (tier %s).", result.Branch, result.Target, tier))
		m.Type = mail.TypeMerged
		r.Notify(m)
	}
	return result, nil
}

// tryAutoResolve applies the deterministic rules to every conflicted
// file. Succeeds only when all files resolve and the tier is not
// skipped for any of them.
func (r *Resolver) tryAutoResolve(log hclog.Logger, branch string, conflicts []string, message string) bool {
	for _, file := range conflicts {
		if skip, err := r.History.SkipTier(file, mergeq.TierAutoResolve); err != nil || skip {
			if skip {
				log.Debug("skipping tier for file", "tier", mergeq.TierAutoResolve, "file", file)
			}
			return false
		}
	}

	resolved := make(map[string]string, len(conflicts))
	for _, file := range conflicts {
		content, err := os.ReadFile(filepath.Join(r.Git.Dir(), file))
		if err != nil {
			log.Warn("reading conflicted file failed", "file", file, "error", err)
			return false
		}
		parsed, err := ParseConflicts(string(content))
		if err != nil {
			log.Warn("parsing conflict markers failed", "file", file, "error", err)
			return false
		}
		body, ok := parsed.ResolveDeterministic()
		if !ok {
			r.record(file, branch, mergeq.TierAutoResolve, OutcomeFailed, "")
			return false
		}
		resolved[file] = body
	}

	for file, body := range resolved {
		if err := os.WriteFile(filepath.Join(r.Git.Dir(), file), []byte(body), 0o644); err != nil {
			log.Warn("writing resolved file failed", "file", file, "error", err)
			return false
		}
		if err := r.Git.Add(file); err != nil {
			log.Warn("staging resolved file failed", "file", file, "error", err)
			return false
		}
		r.record(file, branch, mergeq.TierAutoResolve, OutcomeSuccess, "deterministic")
	}
	if err := r.Git.Commit(message); err != nil {
		log.Warn("committing auto-resolution failed", "error", err)
		return false
	}
	return true
}

// tryReimagine asks the external tool to resolve each file. The tier
// applies only when every conflicted file already has a successful
// external resolution on record.
func (r *Resolver) tryReimagine(log hclog.Logger, branch string, conflicts []string, message string) bool {
	if r.ReimagineTool == "" {
		return false
	}
	for _, file := range conflicts {
		if skip, err := r.History.SkipTier(file, mergeq.TierReimagine); err != nil || skip {
			return false
		}
		eligible, err := r.History.HasSuccess(file, mergeq.TierReimagine)
		if err != nil || !eligible {
			return false
		}
	}

	for _, file := range conflicts {
		if err := r.reimagineFile(file); err != nil {
			log.Warn("external resolution failed", "file", file, "error", err)
			r.record(file, branch, mergeq.TierReimagine, OutcomeFailed, "")
			// Restore the conflict markers so the manual tier sees the
			// original conflicted state.
			_, _ = r.Git.Run("checkout", "--merge", "--", file)
			return false
		}
		if err := r.Git.Add(file); err != nil {
			log.Warn("staging resolved file failed", "file", file, "error", err)
			return false
		}
		r.record(file, branch, mergeq.TierReimagine, OutcomeSuccess, "ai resolution")
	}
	if err := r.Git.Commit(message); err != nil {
		log.Warn("committing external resolution failed", "error", err)
		return false
	}
	return true
}

// reimagineFile runs the external tool with the conflicted content on
// stdin and writes the replacement body it returns. The call is bounded;
// a timeout fails the tier.
func (r *Resolver) reimagineFile(file string) error {
	path := filepath.Join(r.Git.Dir(), file)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	hints, _ := r.History.Hints(file, 5)
	var prompt strings.Builder
	prompt.WriteString("Resolve the git conflict markers in the following file. ")
	prompt.WriteString("Output only the complete resolved file body, changing nothing outside the conflict hunks.\n")
	if len(hints) > 0 {
		prompt.WriteString("Past resolutions for this file used: " + strings.Join(hints, "; ") + "\n")
	}
	prompt.WriteString("\n" + string(content))

	ctx, cancel := context.WithTimeout(context.Background(), reimagineTimeout)
	defer cancel()

	parts := strings.Fields(r.ReimagineTool)
	out, err := util.ExecWithStdin(ctx, r.Git.Dir(), prompt.String(), parts[0], parts[1:]...)
	if err != nil {
		return fmt.Errorf("running %s: %w", parts[0], err)
	}
	if strings.Contains(out, "<<<<<<<") {
		return fmt.Errorf("resolution still contains conflict markers")
	}
	if err := os.WriteFile(path, []byte(out+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", file, err)
	}
	return nil
}

// fail marks the queue entry failed and wraps err with the branch and
// tier. The merge_failed notification stays best-effort.
func (r *Resolver) fail(result *Result, tier mergeq.Tier, err error) error {
	if uerr := r.Queue.UpdateStatus(result.Branch, mergeq.StatusFailed, tier); uerr != nil && !errs.IsNotFound(uerr) {
		r.Log.Warn("updating queue entry failed", "branch", result.Branch, "error", uerr)
	}
	result.Status = mergeq.StatusFailed
	result.Tier = tier
	r.notifyFailed(result.Branch, result.Target, result.Conflicts, false)
	return &errs.MergeError{Branch: result.Branch, Tier: string(tier), Err: err}
}

// notifyFailed sends the merge_failed mail, plus the escalation when the
// manual tier is the outcome.
func (r *Resolver) notifyFailed(branch, target string, conflicts []string, escalate bool) {
	if r.Notify == nil {
		return
	}
	m := mail.NewMessage(r.sender(), "coordinator",
		fmt.Sprintf("Merge failed: %s", branch),
		fmt.Sprintf("Branch %s could not be merged into %s. Conflicted files: %s",
			branch, target, strings.Join(conflicts, ", ")))
	m.Type = mail.TypeMergeFailed
	m.Priority = mail.PriorityHigh
	r.Notify(m)

	if !escalate {
		return
	}
	esc := mail.NewMessage(r.sender(), "coordinator",
		fmt.Sprintf("Escalation: manual merge needed for %s", branch),
		"All automatic resolution tiers were exhausted. The working tree holds the conflict state.")
	esc.Type = mail.TypeEscalation
	esc.Priority = mail.PriorityUrgent
	_ = esc.SetPayload(mail.EscalationPayload{
		Reason: "merge conflict",
		Branch: branch,
		Tier:   string(mergeq.TierManual),
	})
	r.Notify(esc)
}

func (r *Resolver) record(file, branch string, tier mergeq.Tier, outcome Outcome, hint string) {
	err := r.History.Append(&HistoryRecord{
		File:    file,
		Branch:  branch,
		Tier:    tier,
		Outcome: outcome,
		Hint:    hint,
	})
	if err != nil {
		r.Log.Warn("recording conflict history failed", "file", file, "error", err)
	}
}

func (r *Resolver) sender() string {
	if r.Sender != "" {
		return r.Sender
	}
	return "orchestrator"
}
