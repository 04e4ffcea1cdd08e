//go:build !windows

// Package proc enumerates and signals process trees.
//
// Agents spawn their own children (compilers, test runners, the LLM
// binary, git); killing a session must take the whole tree down or those
// children outlive it.
package proc

import (
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Alive reports whether the process exists, using the zero-signal probe.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Children returns the direct child PIDs of a process. Tries pgrep first,
// falls back to parsing ps output.
func Children(parent int) []int {
	var children []int

	out, err := exec.Command("pgrep", "-P", strconv.Itoa(parent)).Output()
	if err == nil {
		for _, pidStr := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if pid, err := strconv.Atoi(pidStr); err == nil && pid > 0 {
				children = append(children, pid)
			}
		}
		return children
	}

	out, err = exec.Command("ps", "-eo", "pid,ppid").Output()
	if err != nil {
		return children
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if ppid == parent && pid > 0 {
			children = append(children, pid)
		}
	}
	return children
}

// Descendants returns every descendant of root, deepest first. The root
// itself is not included. Deepest-first order lets callers signal leaves
// before their parents so no orphan is reparented mid-kill.
func Descendants(root int) []int {
	type node struct {
		pid   int
		depth int
	}
	var all []node

	var walk func(pid, depth int)
	walk = func(pid, depth int) {
		for _, child := range Children(pid) {
			all = append(all, node{pid: child, depth: depth + 1})
			walk(child, depth+1)
		}
	}
	walk(root, 0)

	sort.SliceStable(all, func(i, j int) bool { return all[i].depth > all[j].depth })

	pids := make([]int, len(all))
	for i, n := range all {
		pids[i] = n.pid
	}
	return pids
}

// KillTree terminates a process tree rooted at root. Descendants receive
// SIGTERM deepest first, then the root; after the grace interval any
// survivor (probed with signal 0) receives SIGKILL. Signalling an
// already-dead process is not an error.
func KillTree(root int, grace time.Duration) {
	if root <= 0 {
		return
	}

	targets := append(Descendants(root), root)

	for _, pid := range targets {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	time.Sleep(grace)

	for _, pid := range targets {
		if Alive(pid) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}
