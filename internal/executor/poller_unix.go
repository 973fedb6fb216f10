//go:build unix && !linux

package executor

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSet is the poll(2) fallback for platforms without epoll.
type pollSet struct {
	mu  sync.Mutex
	fds map[int]struct{}
}

func newPoller() (poller, error) {
	return &pollSet{fds: make(map[int]struct{})}, nil
}

func (p *pollSet) add(fd int) error {
	p.mu.Lock()
	p.fds[fd] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *pollSet) remove(fd int) {
	p.mu.Lock()
	delete(p.fds, fd)
	p.mu.Unlock()
}

func (p *pollSet) wait(timeout time.Duration) ([]int, error) {
	p.mu.Lock()
	pfds := make([]unix.PollFd, 0, len(p.fds))
	for fd := range p.fds {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	p.mu.Unlock()

	if len(pfds) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}
	_, err := unix.Poll(pfds, timeoutMillis(timeout))
	if errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ready []int
	for _, pfd := range pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, int(pfd.Fd))
		}
	}
	return ready, nil
}

func (p *pollSet) close() error {
	p.mu.Lock()
	p.fds = make(map[int]struct{})
	p.mu.Unlock()
	return nil
}
