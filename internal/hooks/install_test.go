package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readSettings(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	settings := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("parsing settings: %v", err)
	}
	return settings
}

func TestInstallWiresAllEvents(t *testing.T) {
	paths := testPaths(t)
	if err := Install(paths, false); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	status, err := Status(paths)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	for _, event := range []string{
		EventSessionStart, EventUserPromptSubmit, EventPreToolUse,
		EventPostToolUse, EventStop, EventPreCompact,
	} {
		if !status[event] {
			t.Errorf("Status()[%s] = false, want true", event)
		}
	}

	if _, err := os.Stat(paths.HooksFile()); err != nil {
		t.Errorf("hooks.json not written: %v", err)
	}
}

func TestInstallIdempotent(t *testing.T) {
	paths := testPaths(t)
	if err := Install(paths, false); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := Install(paths, false); err != nil {
		t.Fatalf("second Install() error = %v", err)
	}

	settings := readSettings(t, filepath.Join(paths.Root, settingsRelPath))
	var table map[string][]hookMatcher
	if err := json.Unmarshal(settings["hooks"], &table); err != nil {
		t.Fatal(err)
	}
	for event, entries := range table {
		count := 0
		for _, entry := range entries {
			for _, h := range entry.Hooks {
				if h.Command == hookCommandFor(event) {
					count++
				}
			}
		}
		if count != 1 {
			t.Errorf("event %s wired %d times, want 1", event, count)
		}
	}
}

func TestInstallPreservesForeignSettings(t *testing.T) {
	paths := testPaths(t)
	settingsPath := filepath.Join(paths.Root, settingsRelPath)
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		t.Fatal(err)
	}
	existing := `{
		"model": "opus",
		"hooks": {
			"PreToolUse": [{"matcher": "Edit", "hooks": [{"type": "command", "command": "custom-lint"}]}]
		}
	}`
	if err := os.WriteFile(settingsPath, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Install(paths, false); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	settings := readSettings(t, settingsPath)
	var model string
	if err := json.Unmarshal(settings["model"], &model); err != nil || model != "opus" {
		t.Errorf("foreign setting lost: model = %q, err = %v", model, err)
	}

	var table map[string][]hookMatcher
	if err := json.Unmarshal(settings["hooks"], &table); err != nil {
		t.Fatal(err)
	}
	foundCustom := false
	for _, entry := range table[EventPreToolUse] {
		for _, h := range entry.Hooks {
			if h.Command == "custom-lint" {
				foundCustom = true
			}
		}
	}
	if !foundCustom {
		t.Error("pre-existing custom hook removed by Install()")
	}
}

func TestUninstallRemovesOnlyOurs(t *testing.T) {
	paths := testPaths(t)
	settingsPath := filepath.Join(paths.Root, settingsRelPath)
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		t.Fatal(err)
	}
	existing := `{
		"hooks": {
			"Stop": [{"hooks": [{"type": "command", "command": "custom-notify"}]}]
		}
	}`
	if err := os.WriteFile(settingsPath, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Install(paths, false); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := Uninstall(paths); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}

	status, err := Status(paths)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	for event, wired := range status {
		if wired {
			t.Errorf("Status()[%s] = true after uninstall, want false", event)
		}
	}

	settings := readSettings(t, settingsPath)
	var table map[string][]hookMatcher
	if err := json.Unmarshal(settings["hooks"], &table); err != nil {
		t.Fatal(err)
	}
	if len(table["Stop"]) != 1 || table["Stop"][0].Hooks[0].Command != "custom-notify" {
		t.Errorf("custom hook lost on uninstall: %v", table["Stop"])
	}

	if _, err := os.Stat(paths.HooksFile()); !os.IsNotExist(err) {
		t.Error("hooks.json still present after uninstall")
	}
}

func TestInstallMalformedSettings(t *testing.T) {
	paths := testPaths(t)
	settingsPath := filepath.Join(paths.Root, settingsRelPath)
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(settingsPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Install(paths, false); err == nil {
		t.Fatal("Install() error = nil on malformed settings, want error")
	}

	// force rewrites from scratch.
	if err := Install(paths, true); err != nil {
		t.Fatalf("Install(force) error = %v", err)
	}
	status, err := Status(paths)
	if err != nil {
		t.Fatal(err)
	}
	if !status[EventPreToolUse] {
		t.Error("Status()[PreToolUse] = false after forced install")
	}
}

func TestUninstallWithoutSettingsFile(t *testing.T) {
	paths := testPaths(t)
	if err := Uninstall(paths); err != nil {
		t.Errorf("Uninstall() error = %v, want nil", err)
	}
}

func TestStatusWithoutSettingsFile(t *testing.T) {
	paths := testPaths(t)
	status, err := Status(paths)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status) == 0 {
		t.Fatal("Status() empty, want all events reported unwired")
	}
	for event, wired := range status {
		if wired {
			t.Errorf("Status()[%s] = true, want false", event)
		}
	}
}
