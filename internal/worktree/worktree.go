// Package worktree manages per-agent git worktrees under
// .legio/worktrees/.
package worktree

import (
	"fmt"
	"os"
	"strings"

	"github.com/legio-dev/legio/internal/git"
)

// BranchNamespace is the prefix of every Legio-managed branch.
const BranchNamespace = "legio/"

// BranchName returns the branch for an agent and task:
// legio/{agentName}/{taskId}.
func BranchName(agent, task string) string {
	return fmt.Sprintf("%s%s/%s", BranchNamespace, agent, task)
}

// Entry describes one Legio worktree.
type Entry struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Head   string `json:"head"`
}

// RemoveOptions controls worktree removal.
type RemoveOptions struct {
	// Force removes the worktree even with local modifications, and
	// succeeds if the directory is already gone.
	Force bool
	// ForceBranch also deletes the backing branch.
	ForceBranch bool
}

// Manager creates and removes worktrees for a repository root.
type Manager struct {
	root string
	git  *git.Git
}

// NewManager returns a Manager rooted at the repository.
func NewManager(root string) *Manager {
	return &Manager{root: root, git: git.NewGit(root)}
}

// Create adds a worktree at path on a new branch created from base.
// Fails if the branch already exists.
func (m *Manager) Create(path, branch, base string) error {
	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("branch %s already exists", branch)
	}
	if _, err := m.git.Run("worktree", "add", "-b", branch, path, base); err != nil {
		return fmt.Errorf("creating worktree at %s: %w", path, err)
	}
	return nil
}

// List returns worktrees whose branch is in the Legio namespace.
func (m *Manager) List() ([]Entry, error) {
	out, err := m.git.Run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	var entries []Entry
	var cur Entry
	flush := func() {
		if cur.Path != "" && strings.HasPrefix(cur.Branch, BranchNamespace) {
			entries = append(entries, cur)
		}
		cur = Entry{}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()

	return entries, nil
}

// Remove deletes a worktree. With Force, a missing directory and an
// already-pruned worktree both succeed.
func (m *Manager) Remove(path string, opts RemoveOptions) error {
	args := []string{"worktree", "remove"}
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, path)

	var branch string
	if opts.ForceBranch {
		branch = m.branchAt(path)
	}

	if _, err := m.git.Run(args...); err != nil {
		missing := strings.Contains(err.Error(), "is not a working tree") ||
			strings.Contains(err.Error(), "No such file")
		if !opts.Force || !missing {
			if _, statErr := os.Stat(path); !opts.Force || !os.IsNotExist(statErr) {
				return fmt.Errorf("removing worktree %s: %w", path, err)
			}
		}
		// Already removed; prune the stale registration.
		_, _ = m.git.Run("worktree", "prune")
	}

	if opts.ForceBranch && branch != "" {
		if err := m.git.DeleteBranch(branch, true); err != nil &&
			!strings.Contains(err.Error(), "not found") {
			return err
		}
	}
	return nil
}

// branchAt resolves the branch checked out in the worktree at path, from
// the worktree listing. Empty if unknown.
func (m *Manager) branchAt(path string) string {
	entries, err := m.List()
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Path == path {
			return e.Branch
		}
	}
	return ""
}
