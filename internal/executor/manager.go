package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Manager supervises managed handles: it polls them for exit, keeps their
// output pipes drained, and moves exited handles from running to closed where
// they stay until Dispose.
//
// The lock guards the maps only; it is never held across Poll, Read, Close or
// the readiness wait.
type Manager struct {
	cfg     Config
	log     zerolog.Logger
	metrics Metrics

	mu      sync.Mutex
	running map[int]*Handle
	closed  map[int]*Handle
	watched map[int]*pipeStream

	poller      poller
	closePoller sync.Once
	looping     atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager builds an idle registry. Run drives it.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	cfg = cfg.WithDefaults()
	m := &Manager{
		cfg:     cfg,
		log:     logger,
		metrics: cfg.Metrics,
		running: make(map[int]*Handle),
		closed:  make(map[int]*Handle),
		watched: make(map[int]*pipeStream),
		stop:    make(chan struct{}),
	}
	p, err := newPoller()
	if err != nil {
		m.log.Warn().Err(err).Msg("readiness poller unavailable, falling back to timed reads")
	} else {
		m.poller = p
	}
	return m
}

// Add registers h as running and starts draining its output.
func (m *Manager) Add(h *Handle) {
	pid := h.Pid()
	streams := h.captureStreams()

	m.mu.Lock()
	if _, stale := m.closed[pid]; stale {
		m.log.Warn().Int("pid", pid).Msg("pid reused, evicting undisposed handle")
		delete(m.closed, pid)
	}
	m.running[pid] = h
	var fds []int
	for _, s := range streams {
		if fd := s.Fd(); fd >= 0 {
			m.watched[fd] = s
			fds = append(fds, fd)
		}
	}
	running, closed := len(m.running), len(m.closed)
	m.mu.Unlock()

	if m.poller != nil {
		for _, fd := range fds {
			if err := m.poller.add(fd); err != nil {
				m.log.Warn().Int("pid", pid).Int("fd", fd).Err(err).Msg("watch stream failed")
			}
		}
	}
	m.metrics.Managed(running, closed)
	m.log.Debug().Int("pid", pid).Msg("managed process added")
}

// clean closes an exited handle and moves it to the closed map.
func (m *Manager) clean(h *Handle) {
	pid := h.Pid()
	m.log.Debug().Int("pid", pid).Msg("cleaning process")
	for _, s := range h.captureStreams() {
		m.unwatch(s)
	}
	if err := h.Close(); err != nil {
		m.log.Warn().Int("pid", pid).Err(err).Msg("close process streams")
	}

	m.mu.Lock()
	if m.running[pid] == h {
		delete(m.running, pid)
		m.closed[pid] = h
	}
	running, closed := len(m.running), len(m.closed)
	m.mu.Unlock()
	m.metrics.Managed(running, closed)
}

func (m *Manager) unwatch(s *pipeStream) {
	m.mu.Lock()
	var fds []int
	for fd, ws := range m.watched {
		if ws == s {
			delete(m.watched, fd)
			fds = append(fds, fd)
		}
	}
	m.mu.Unlock()
	if m.poller != nil {
		for _, fd := range fds {
			m.poller.remove(fd)
		}
	}
}

// Dispose drops a closed handle once its results have been consumed.
func (m *Manager) Dispose(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.closed[pid]; ok {
		delete(m.closed, pid)
		m.metrics.Managed(len(m.running), len(m.closed))
		return nil
	}
	if _, ok := m.running[pid]; ok {
		return fmt.Errorf("%w: %d", ErrProcessRunning, pid)
	}
	return fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
}

// Get looks pid up in running, then closed.
func (m *Manager) Get(pid int) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.running[pid]; ok {
		return h, true
	}
	h, ok := m.closed[pid]
	return h, ok
}

func (m *Manager) Contains(pid int) bool {
	_, ok := m.Get(pid)
	return ok
}

// Keys lists every managed pid, running or closed, in ascending order.
func (m *Manager) Keys() []int {
	m.mu.Lock()
	keys := make([]int, 0, len(m.running)+len(m.closed))
	for pid := range m.running {
		keys = append(keys, pid)
	}
	for pid := range m.closed {
		keys = append(keys, pid)
	}
	m.mu.Unlock()
	sort.Ints(keys)
	return keys
}

// IsRunning reports whether pid sits in the running map.
func (m *Manager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[pid]
	return ok
}

// IsClosed reports whether pid sits in the closed map.
func (m *Manager) IsClosed(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.closed[pid]
	return ok
}

// Counts returns the sizes of the running and closed maps.
func (m *Manager) Counts() (running, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running), len(m.closed)
}

// Run loops until ctx is done or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	m.looping.Store(true)
	defer m.releasePoller()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		default:
		}
		m.step(ctx)
	}
}

// Stop ends the loop. Handles stay where they are.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if !m.looping.Load() {
		m.releasePoller()
	}
}

func (m *Manager) releasePoller() {
	m.closePoller.Do(func() {
		if m.poller != nil {
			_ = m.poller.close()
		}
	})
}

func (m *Manager) step(ctx context.Context) {
	live := 0
	for _, h := range m.snapshotRunning() {
		if _, exited := h.Poll(); exited {
			m.clean(h)
			continue
		}
		live++
	}
	if live == 0 {
		m.sleep(ctx, m.cfg.ManagerIdleInterval)
		return
	}
	m.drain(ctx)
}

// drain waits up to ReadinessTimeout for any watched pipe to become readable
// and reads the ready ones.
func (m *Manager) drain(ctx context.Context) {
	if m.poller == nil {
		m.sleep(ctx, m.cfg.ReadinessTimeout)
		for _, s := range m.snapshotWatched() {
			s.Read()
		}
		return
	}

	ready, err := m.poller.wait(m.cfg.ReadinessTimeout)
	if err != nil {
		m.log.Warn().Err(err).Msg("readiness wait failed")
		m.sleep(ctx, m.cfg.ReadinessTimeout)
		return
	}
	for _, fd := range ready {
		m.mu.Lock()
		s := m.watched[fd]
		m.mu.Unlock()
		if s == nil {
			m.poller.remove(fd)
			continue
		}
		s.Read()
		if s.exhausted() {
			m.unwatch(s)
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.stop:
	case <-timer.C:
	}
}

func (m *Manager) snapshotRunning() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, 0, len(m.running))
	for _, h := range m.running {
		out = append(out, h)
	}
	return out
}

func (m *Manager) snapshotWatched() []*pipeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*pipeStream, 0, len(m.watched))
	for _, s := range m.watched {
		out = append(out, s)
	}
	return out
}
