package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/legio-dev/legio/internal/util"
	"github.com/legio-dev/legio/internal/workspace"
)

// settingsRelPath is the agent runtime's per-project settings file.
const settingsRelPath = ".claude/settings.json"

// hookMatcher is one entry in the runtime's hooks table.
type hookMatcher struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []hookCommand `json:"hooks"`
}

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// wiring lists the hook events Legio installs and the matcher each one
// needs. PreToolUse is restricted to Bash; that is the only tool the
// git guard inspects.
var wiring = []struct {
	Event   string
	Matcher string
}{
	{EventSessionStart, ""},
	{EventUserPromptSubmit, ""},
	{EventPreToolUse, "Bash"},
	{EventPostToolUse, ""},
	{EventStop, ""},
	{EventPreCompact, ""},
}

func hookCommandFor(event string) string {
	return "legio hook " + event
}

// Install wires every Legio hook into the project's runtime settings,
// preserving unrelated settings keys, and records the install in
// hooks.json. Re-installing is idempotent. force starts over from empty
// settings when the existing file does not parse.
func Install(paths workspace.Paths, force bool) error {
	settingsPath := filepath.Join(paths.Root, settingsRelPath)

	settings := make(map[string]json.RawMessage)
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			if !force {
				return fmt.Errorf("parsing %s: %w (re-run with --force to rewrite)", settingsPath, err)
			}
			settings = make(map[string]json.RawMessage)
		}
	}

	hooksTable := make(map[string][]hookMatcher)
	if raw, ok := settings["hooks"]; ok {
		if err := json.Unmarshal(raw, &hooksTable); err != nil {
			return fmt.Errorf("parsing hooks in %s: %w", settingsPath, err)
		}
	}

	for _, w := range wiring {
		command := hookCommandFor(w.Event)
		exists := false
		for _, entry := range hooksTable[w.Event] {
			if entry.Matcher != w.Matcher {
				continue
			}
			for _, h := range entry.Hooks {
				if h.Command == command {
					exists = true
				}
			}
		}
		if exists {
			continue
		}
		hooksTable[w.Event] = append(hooksTable[w.Event], hookMatcher{
			Matcher: w.Matcher,
			Hooks:   []hookCommand{{Type: "command", Command: command}},
		})
	}

	encoded, err := json.Marshal(hooksTable)
	if err != nil {
		return fmt.Errorf("encoding hooks table: %w", err)
	}
	settings["hooks"] = encoded

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", settingsPath, err)
	}
	if err := util.AtomicWriteFile(settingsPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", settingsPath, err)
	}

	record := map[string]interface{}{"installed": true, "events": len(wiring)}
	return util.AtomicWriteJSON(paths.HooksFile(), record)
}

// Uninstall removes Legio's hook commands from the runtime settings,
// leaving everything else intact.
func Uninstall(paths workspace.Paths) error {
	settingsPath := filepath.Join(paths.Root, settingsRelPath)

	settings := make(map[string]json.RawMessage)
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			_ = os.Remove(paths.HooksFile())
			return nil
		}
		return fmt.Errorf("reading %s: %w", settingsPath, err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parsing %s: %w", settingsPath, err)
	}

	hooksTable := make(map[string][]hookMatcher)
	if raw, ok := settings["hooks"]; ok {
		if err := json.Unmarshal(raw, &hooksTable); err != nil {
			return fmt.Errorf("parsing hooks in %s: %w", settingsPath, err)
		}
	}

	for event, entries := range hooksTable {
		var kept []hookMatcher
		for _, entry := range entries {
			var commands []hookCommand
			for _, h := range entry.Hooks {
				if h.Command != hookCommandFor(event) {
					commands = append(commands, h)
				}
			}
			if len(commands) > 0 {
				entry.Hooks = commands
				kept = append(kept, entry)
			}
		}
		if len(kept) > 0 {
			hooksTable[event] = kept
		} else {
			delete(hooksTable, event)
		}
	}

	encoded, err := json.Marshal(hooksTable)
	if err != nil {
		return fmt.Errorf("encoding hooks table: %w", err)
	}
	settings["hooks"] = encoded

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", settingsPath, err)
	}
	if err := util.AtomicWriteFile(settingsPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", settingsPath, err)
	}

	_ = os.Remove(paths.HooksFile())
	return nil
}

// Status reports which Legio hook events are currently wired.
func Status(paths workspace.Paths) (map[string]bool, error) {
	settingsPath := filepath.Join(paths.Root, settingsRelPath)

	status := make(map[string]bool, len(wiring))
	for _, w := range wiring {
		status[w.Event] = false
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return nil, fmt.Errorf("reading %s: %w", settingsPath, err)
	}

	var settings struct {
		Hooks map[string][]hookMatcher `json:"hooks"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", settingsPath, err)
	}

	for event, entries := range settings.Hooks {
		for _, entry := range entries {
			for _, h := range entry.Hooks {
				if h.Command == hookCommandFor(event) {
					status[event] = true
				}
			}
		}
	}
	return status, nil
}
