package executor

import "time"

// poller waits for readability across registered descriptors.
// add and remove may be called from any goroutine; wait from one.
type poller interface {
	add(fd int) error
	remove(fd int)
	wait(timeout time.Duration) ([]int, error)
	close() error
}

func timeoutMillis(timeout time.Duration) int {
	ms := int(timeout / time.Millisecond)
	if ms <= 0 && timeout > 0 {
		ms = 1
	}
	return ms
}
