package tools

import (
	"context"
	"time"

	"github.com/danmuck/execd/internal/executor"
)

const drainInterval = 20 * time.Millisecond

// Result is the outcome of one captured command.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ReturnCode int
}

// CommandRunner abstracts captured command execution for adapters and tasks.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands as unmanaged capturing jobs on an executor.
type ExecRunner struct {
	Runner executor.Runner
}

var _ CommandRunner = ExecRunner{}

// Run starts the command under the owner carried by ctx, keeps both pipes
// drained until it exits, and returns everything it wrote. A cancelled ctx
// kills the process; the partial result is still returned with ctx.Err().
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	command := append([]string{name}, args...)
	h, err := r.Runner.CreateJob(ctx, executor.Job{Command: command})
	if err != nil {
		return Result{ReturnCode: -1}, err
	}

	done := make(chan int, 1)
	go func() { done <- h.Wait() }()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	var runErr error
	code := 0
wait:
	for {
		select {
		case code = <-done:
			break wait
		case <-ctx.Done():
			h.Kill()
			code = <-done
			runErr = ctx.Err()
			break wait
		case <-ticker.C:
			h.Stdout().Read()
			h.Stderr().Read()
		}
	}

	closeErr := h.Close()
	if runErr == nil {
		runErr = closeErr
	}
	return Result{
		Stdout:     h.Stdout().Bytes(),
		Stderr:     h.Stderr().Bytes(),
		ReturnCode: code,
	}, runErr
}
