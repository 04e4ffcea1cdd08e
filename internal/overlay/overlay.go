// Package overlay writes the per-agent on-disk artefacts: the worktree
// instruction overlay, the identity file, and the resume checkpoint.
package overlay

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/util"
)

// InstructionFile is the instruction file the agent runtime reads from
// its working directory.
const InstructionFile = "CLAUDE.md"

// Overlay is the activation context written into an agent's worktree.
type Overlay struct {
	Agent      string
	Capability state.Capability
	TaskID     string
	Parent     string
	Depth      int
	Branch     string
	// FileScope lists the paths this agent exclusively owns. Empty means
	// unrestricted.
	FileScope []string
	// Instructions is the capability template body, if one exists under
	// agent-defs.
	Instructions string
}

// Write renders the overlay into the worktree's instruction file.
func (o *Overlay) Write(worktreeDir string) error {
	path := filepath.Join(worktreeDir, InstructionFile)
	if err := util.AtomicWriteFile(path, []byte(o.render()), 0o644); err != nil {
		return fmt.Errorf("writing overlay for %s: %w", o.Agent, err)
	}
	return nil
}

func (o *Overlay) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Agent: %s\n\n", o.Agent)
	fmt.Fprintf(&sb, "- Capability: %s\n", o.Capability)
	fmt.Fprintf(&sb, "- Task: %s\n", o.TaskID)
	fmt.Fprintf(&sb, "- Branch: %s\n", o.Branch)
	if o.Parent != "" {
		fmt.Fprintf(&sb, "- Parent: %s\n", o.Parent)
	}
	fmt.Fprintf(&sb, "- Depth: %d\n", o.Depth)

	sb.WriteString("\n## File scope\n\n")
	if len(o.FileScope) == 0 {
		sb.WriteString("No exclusive ownership declared. Coordinate before touching shared files.\n")
	} else {
		sb.WriteString("You exclusively own these paths. Do not modify files outside them:\n\n")
		for _, p := range o.FileScope {
			fmt.Fprintf(&sb, "- `%s`\n", p)
		}
	}

	sb.WriteString("\n## Protocol\n\n")
	sb.WriteString("Work only inside this worktree. Commit to your branch as you go.\n")
	sb.WriteString("Report status with `legio mail send`. When your task is complete,\n")
	sb.WriteString("commit everything and send a merge_ready message naming your branch.\n")

	if o.Instructions != "" {
		sb.WriteString("\n## Capability instructions\n\n")
		sb.WriteString(strings.TrimRight(o.Instructions, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Beacon builds the activation text injected into a freshly spawned
// session. One line; the terminal adapter flattens newlines anyway.
func (o *Overlay) Beacon() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are agent %s (capability %s, depth %d", o.Agent, o.Capability, o.Depth)
	if o.Parent != "" {
		fmt.Fprintf(&sb, ", parent %s", o.Parent)
	}
	sb.WriteString("). ")
	fmt.Fprintf(&sb, "Your task id is %s and your branch is %s. ", o.TaskID, o.Branch)
	fmt.Fprintf(&sb, "Read %s in your working directory for your scope and protocol, then begin.", InstructionFile)
	return sb.String()
}
