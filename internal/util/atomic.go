package util

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// AtomicWriteJSON writes JSON data to a file atomically. It first writes
// to a temporary file, then renames it to the target path, so a crash
// mid-write never leaves a truncated file behind. The rename is atomic
// on POSIX systems.
func AtomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return AtomicWriteFile(path, data, 0644)
}

// AtomicWriteFile writes data to a file atomically via a temp-then-rename,
// creating parent directories as needed.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, perm); err != nil {
		return err
	}

	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}

	return nil
}

// ReadJSON reads and unmarshals a JSON file into v. A missing file is
// reported via os.IsNotExist on the returned error.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: paths come from the workspace layout
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
