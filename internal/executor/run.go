package executor

import (
	"context"
	"fmt"
)

// Runner is the slice of the executor its consumers depend on.
type Runner interface {
	CreateJob(ctx context.Context, job Job) (*Handle, error)
	ChildrenOf(owner Owner) []*Handle
}

var _ Runner = (*Executor)(nil)

// RunCommand runs command unmanaged with its output discarded and waits for
// the exit code.
func RunCommand(ctx context.Context, r Runner, command ...string) (int, error) {
	h, err := r.CreateJob(ctx, Job{Command: command, DiscardOutput: true})
	if err != nil {
		return 0, err
	}
	done := make(chan int, 1)
	go func() { done <- h.Wait() }()
	select {
	case code := <-done:
		return code, nil
	case <-ctx.Done():
		h.Kill()
		return <-done, ctx.Err()
	}
}

// RunCommandOrFail is RunCommand that turns a non-zero exit into an error
// matching ErrCommandFailed.
func RunCommandOrFail(ctx context.Context, r Runner, command ...string) error {
	code, err := RunCommand(ctx, r, command...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: %s: exit %d", ErrCommandFailed, Job{Command: command}.CommandLine(), code)
	}
	return nil
}
