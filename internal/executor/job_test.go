package executor

import (
	"context"
	"errors"
	"testing"
)

func TestJobCommandLine(t *testing.T) {
	cases := []struct {
		command []string
		want    string
	}{
		{[]string{"echo", "plain"}, "echo plain"},
		{[]string{"echo", "two words"}, "echo 'two words'"},
		{[]string{"echo", ""}, "echo ''"},
		{[]string{"sh", "-c", "echo $HOME"}, "sh -c 'echo $HOME'"},
		{[]string{"echo", "it's"}, `echo 'it'"'"'s'`},
	}
	for _, tc := range cases {
		if got := (Job{Command: tc.command}).CommandLine(); got != tc.want {
			t.Fatalf("command line %v: got %q want %q", tc.command, got, tc.want)
		}
	}
}

func TestJobNameAndArguments(t *testing.T) {
	job := NewJob("ls", "-l", "/tmp")
	if job.Name() != "ls" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	args := job.Arguments()
	if len(args) != 2 || args[0] != "-l" || args[1] != "/tmp" {
		t.Fatalf("unexpected arguments %v", args)
	}
	args[0] = "mutated"
	if job.Command[1] != "-l" {
		t.Fatalf("arguments should be a copy")
	}
	if got := NewJob("true").Arguments(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil arguments, got %v", got)
	}
	if (Job{}).Name() != "" {
		t.Fatalf("expected empty name")
	}
}

func TestJobValidate(t *testing.T) {
	if err := NewJob("true").Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (Job{}).Validate(); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected empty command, got %v", err)
	}
}

func TestOwnerFromContext(t *testing.T) {
	if got := OwnerFrom(context.Background()); got != OwnerUnknown {
		t.Fatalf("expected unknown, got %q", got)
	}
	if got := OwnerFrom(WithOwner(context.Background(), "  ")); got != OwnerUnknown {
		t.Fatalf("blank owner should read as unknown, got %q", got)
	}
	if got := OwnerFrom(WithOwner(context.Background(), "task.1")); got != "task.1" {
		t.Fatalf("unexpected owner %q", got)
	}
}

func TestRequestCopiesJob(t *testing.T) {
	command := []string{"echo", "a"}
	req := newRequest(7, Job{Command: command}, "owner")
	command[1] = "b"
	if got := req.Job().Command[1]; got != "a" {
		t.Fatalf("request should hold its own copy, got %q", got)
	}
	req.takeOwnership(OwnerWorker)
	if req.Owner() != OwnerWorker {
		t.Fatalf("ownership not transferred")
	}
	if req.String() != "request#7(echo a)" {
		t.Fatalf("unexpected string %q", req.String())
	}
}

func TestEventKindString(t *testing.T) {
	if EventCreated.String() != "created" || EventExited.String() != "exited" || EventSpawnFailed.String() != "spawn_failed" {
		t.Fatalf("unexpected event kind names")
	}
	if StateRunning.String() != "running" || StateClosed.String() != "closed" {
		t.Fatalf("unexpected state names")
	}
}
