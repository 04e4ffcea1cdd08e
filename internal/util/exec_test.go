package util

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecWithOutput(t *testing.T) {
	output, err := ExecWithOutput(".", "echo", "hello")
	if err != nil {
		t.Fatalf("ExecWithOutput failed: %v", err)
	}
	if output != "hello" {
		t.Errorf("expected 'hello', got %q", output)
	}

	if _, err = ExecWithOutput(".", "false"); err == nil {
		t.Error("expected error for failing command")
	}
}

func TestExecWithOutputStderrInError(t *testing.T) {
	_, err := ExecWithOutput(".", "sh", "-c", "echo 'error message' >&2; exit 1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "error message") {
		t.Errorf("expected error to contain stderr, got %q", err.Error())
	}
}

func TestExecWithOutputWorkDir(t *testing.T) {
	tmpDir := t.TempDir()
	output, err := ExecWithOutput(tmpDir, "pwd")
	if err != nil {
		t.Fatalf("ExecWithOutput failed: %v", err)
	}
	if !strings.Contains(output, tmpDir) && !strings.Contains(tmpDir, output) {
		t.Errorf("expected output to contain %q, got %q", tmpDir, output)
	}
}

func TestExecRun(t *testing.T) {
	if err := ExecRun(".", "true"); err != nil {
		t.Fatalf("ExecRun failed: %v", err)
	}
	if err := ExecRun(".", "false"); err == nil {
		t.Error("expected error for failing command")
	}
}

func TestExecWithOutputContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ExecWithOutputContext(ctx, ".", "sleep", "5")
	if err != context.DeadlineExceeded {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestExecWithStdin(t *testing.T) {
	output, err := ExecWithStdin(context.Background(), ".", "input text", "cat")
	if err != nil {
		t.Fatalf("ExecWithStdin failed: %v", err)
	}
	if output != "input text" {
		t.Errorf("expected 'input text', got %q", output)
	}
}
