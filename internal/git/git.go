// Package git wraps the git binary for the operations Legio needs:
// branch queries, merges, worktrees, and conflict inspection.
package git

import (
	"fmt"
	"strings"

	"github.com/legio-dev/legio/internal/util"
)

// Git runs git commands rooted at a working directory.
type Git struct {
	dir string
}

// NewGit returns a Git bound to dir.
func NewGit(dir string) *Git {
	return &Git{dir: dir}
}

// Dir returns the working directory this wrapper operates in.
func (g *Git) Dir() string { return g.dir }

// Run executes an arbitrary git command, returning trimmed stdout.
func (g *Git) Run(args ...string) (string, error) {
	return util.ExecWithOutput(g.dir, "git", args...)
}

// Rev resolves a ref to its commit SHA.
func (g *Git) Rev(ref string) (string, error) {
	out, err := g.Run("rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	return out, nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.Run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving current branch: %w", err)
	}
	return out, nil
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(branch string) (bool, error) {
	_, err := g.Run("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		// show-ref exits non-zero for a missing ref; that is the answer,
		// not a failure.
		return false, nil
	}
	return true, nil
}

// Checkout switches to a branch.
func (g *Git) Checkout(branch string) error {
	if _, err := g.Run("checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// Merge performs a three-way merge of branch into the current branch.
// On conflict the working tree is left in the conflicted state for the
// caller to inspect.
func (g *Git) Merge(branch, message string) error {
	args := []string{"merge", "--no-ff", branch}
	if message != "" {
		args = append(args, "-m", message)
	}
	if _, err := g.Run(args...); err != nil {
		return fmt.Errorf("merging %s: %w", branch, err)
	}
	return nil
}

// AbortMerge aborts an in-progress merge, restoring the pre-merge state.
func (g *Git) AbortMerge() error {
	if _, err := g.Run("merge", "--abort"); err != nil {
		return fmt.Errorf("aborting merge: %w", err)
	}
	return nil
}

// ConflictingFiles lists paths with unresolved conflicts.
func (g *Git) ConflictingFiles() ([]string, error) {
	out, err := g.Run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// IsClean reports whether the working tree has no uncommitted tracked
// changes.
func (g *Git) IsClean() (bool, error) {
	out, err := g.Run("status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("checking status: %w", err)
	}
	return out == "", nil
}

// Add stages paths.
func (g *Git) Add(paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	if _, err := g.Run(args...); err != nil {
		return fmt.Errorf("staging %v: %w", paths, err)
	}
	return nil
}

// Commit records staged changes.
func (g *Git) Commit(message string) error {
	if _, err := g.Run("commit", "-m", message); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// ResetHard resets the working tree to ref, discarding local changes.
func (g *Git) ResetHard(ref string) error {
	if _, err := g.Run("reset", "--hard", ref); err != nil {
		return fmt.Errorf("resetting to %s: %w", ref, err)
	}
	return nil
}

// ShowFile returns the content of path at ref. A path absent at ref
// returns empty content without error, which is what the disjoint-region
// resolution needs for strict additions.
func (g *Git) ShowFile(ref, path string) (string, error) {
	out, err := g.Run("show", ref+":"+path)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") ||
			strings.Contains(err.Error(), "exists on disk, but not in") {
			return "", nil
		}
		return "", fmt.Errorf("reading %s at %s: %w", path, ref, err)
	}
	return out, nil
}

// MergeBase returns the common ancestor of two refs.
func (g *Git) MergeBase(a, b string) (string, error) {
	out, err := g.Run("merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("merge-base %s %s: %w", a, b, err)
	}
	return out, nil
}

// DeleteBranch removes a local branch.
func (g *Git) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := g.Run("branch", flag, branch); err != nil {
		return fmt.Errorf("deleting branch %s: %w", branch, err)
	}
	return nil
}

// CreateBranch creates a branch at base without checking it out.
func (g *Git) CreateBranch(branch, base string) error {
	if _, err := g.Run("branch", branch, base); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}
	return nil
}

// ChangedFiles lists paths that differ between two refs.
func (g *Git) ChangedFiles(from, to string) ([]string, error) {
	out, err := g.Run("diff", "--name-only", from, to)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", from, to, err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
