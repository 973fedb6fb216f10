package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCommand(t *testing.T) {
	e := startExecutor(t, testConfig())

	code, err := RunCommand(context.Background(), e, "sh", "-c", "exit 4")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 4 {
		t.Fatalf("expected 4, got %d", code)
	}
}

func TestRunCommandOrFail(t *testing.T) {
	e := startExecutor(t, testConfig())

	if err := RunCommandOrFail(context.Background(), e, "true"); err != nil {
		t.Fatalf("true failed: %v", err)
	}
	err := RunCommandOrFail(context.Background(), e, "false")
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected command failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit 1") {
		t.Fatalf("error should carry the exit code: %v", err)
	}
	if err := RunCommandOrFail(context.Background(), e); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected empty command, got %v", err)
	}
}

func TestRunCommandKillsOnCancel(t *testing.T) {
	e := startExecutor(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	code, err := RunCommand(ctx, e, "sleep", "30")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if code != -15 {
		t.Fatalf("expected -15, got %d", code)
	}
}
