package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// State is the handle lifecycle position.
type State int32

const (
	StateSpawned State = iota
	StateRunning
	StateExited
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Handle owns one spawned OS process and its two output streams.
//
// The exit status is collected by a private wait goroutine as soon as the
// child exits, so no zombie outlives it. The status only becomes the handle's
// return code once Poll or Wait observes it; that first observation publishes
// a single EventExited.
type Handle struct {
	req     *Request
	cmd     *exec.Cmd
	pid     int
	started time.Time
	stdout  Stream
	stderr  Stream

	grace   time.Duration
	publish func(Event)
	metrics Metrics
	log     zerolog.Logger

	state  atomic.Int32
	exited chan struct{}
	status int

	mu         sync.Mutex
	observed   bool
	returnCode int

	killMu  sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// newHandle spawns the request's job. It must only run on the dispatch
// goroutine.
func newHandle(req *Request, cfg Config, publish func(Event), logger zerolog.Logger) (*Handle, error) {
	job := req.Job()
	if err := job.Validate(); err != nil {
		return nil, err
	}

	h := &Handle{
		req:     req,
		stdout:  nullStream{},
		stderr:  nullStream{},
		grace:   cfg.KillGrace,
		publish: publish,
		metrics: cfg.Metrics,
		exited:  make(chan struct{}),
		log:     logger,
	}
	if h.metrics == nil {
		h.metrics = nopMetrics{}
	}

	//nolint:gosec // running caller-provided commands is the point of this package
	cmd := exec.Command(job.Name(), job.Arguments()...)

	var childEnds []*os.File
	closeChildEnds := func() {
		for _, f := range childEnds {
			_ = f.Close()
		}
		childEnds = nil
	}
	if !job.DiscardOutput {
		stdout, outW, err := h.pipe("stdout", cfg)
		if err != nil {
			return nil, err
		}
		childEnds = append(childEnds, outW)
		stderr, errW, err := h.pipe("stderr", cfg)
		if err != nil {
			closeChildEnds()
			_ = stdout.Close()
			return nil, err
		}
		childEnds = append(childEnds, errW)
		cmd.Stdout = outW
		cmd.Stderr = errW
		h.stdout = stdout
		h.stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		closeChildEnds()
		_ = h.stdout.Close()
		_ = h.stderr.Close()
		return nil, err
	}
	closeChildEnds()

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.started = time.Now()
	h.log = logger.With().Int("pid", h.pid).Logger()
	h.state.Store(int32(StateRunning))
	go h.reap()

	h.log.Debug().
		Uint64("request", req.ID()).
		Str("command", job.CommandLine()).
		Str("owner", string(req.Owner())).
		Int("stdout_fd", h.stdout.Fd()).
		Int("stderr_fd", h.stderr.Fd()).
		Msg("process spawned")
	return h, nil
}

func (h *Handle) pipe(name string, cfg Config) (*pipeStream, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%s pipe: %w", name, err)
	}
	stream, err := newPipeStream(name, r, cfg.ReadChunkSize, h.log)
	if err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, nil, fmt.Errorf("%s pipe: %w", name, err)
	}
	return stream, w, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.status = exitStatus(h.cmd.ProcessState, err)
	close(h.exited)
}

// exitStatus follows the POSIX convention: the exit code, or the negated
// signal number when the process was killed by a signal.
func exitStatus(ps *os.ProcessState, err error) int {
	if ps == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ps = exitErr.ProcessState
		}
	}
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}

func (h *Handle) Pid() int {
	return h.pid
}

func (h *Handle) Request() *Request {
	return h.req
}

func (h *Handle) Started() time.Time {
	return h.started
}

func (h *Handle) Stdout() Stream {
	return h.stdout
}

func (h *Handle) Stderr() Stream {
	return h.stderr
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// ReturnCode is the observed exit code; ok is false while none is observed.
func (h *Handle) ReturnCode() (code int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.returnCode, h.observed
}

// Poll checks for exit without blocking.
func (h *Handle) Poll() (code int, exited bool) {
	select {
	case <-h.exited:
		return h.observe(), true
	default:
		return 0, false
	}
}

// Wait blocks until the process exits and returns its code.
func (h *Handle) Wait() int {
	<-h.exited
	return h.observe()
}

func (h *Handle) observe() int {
	h.mu.Lock()
	first := !h.observed
	if first {
		h.returnCode = h.status
		h.observed = true
		h.state.CompareAndSwap(int32(StateRunning), int32(StateExited))
	}
	code := h.returnCode
	h.mu.Unlock()

	if first {
		h.log.Debug().Int("code", code).Msg("process exited")
		h.metrics.Exited(h.req.Job().Managed, code)
		if h.publish != nil {
			h.publish(Event{Kind: EventExited, Handle: h, Request: h.req, Time: time.Now()})
		}
	}
	return code
}

// Kill sends SIGTERM, waits up to the grace window, then SIGKILL. It returns
// once the exit has been observed. Concurrent and repeated calls collapse
// into one escalation; an exited process is left alone.
func (h *Handle) Kill() {
	h.killMu.Lock()
	defer h.killMu.Unlock()

	if _, exited := h.Poll(); exited {
		return
	}

	h.log.Info().Msg("KILL -15")
	h.metrics.Killed(KillStageTerm)
	if err := h.signal(unix.SIGTERM); err != nil {
		h.log.Debug().Err(err).Msg("terminate signal not delivered")
	}

	timer := time.NewTimer(h.grace)
	defer timer.Stop()
	select {
	case <-h.exited:
		h.observe()
		return
	case <-timer.C:
	}

	h.log.Info().Msg("KILL -9")
	h.metrics.Killed(KillStageKill)
	if err := h.signal(unix.SIGKILL); err != nil {
		h.log.Debug().Err(err).Msg("kill signal not delivered")
	}
	h.Wait()
}

func (h *Handle) signal(sig unix.Signal) error {
	err := h.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Close closes both streams (draining what is left in the pipes) and blocks
// until the process is reaped. Later calls are no-ops.
func (h *Handle) Close() error {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	err := errors.Join(h.stderr.Close(), h.stdout.Close())
	h.Wait()
	h.state.Store(int32(StateClosed))
	return err
}

// Closed reports whether Close has run.
func (h *Handle) Closed() bool {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	return h.closed
}

// captureStreams returns the pipe-backed streams, if any.
func (h *Handle) captureStreams() []*pipeStream {
	var out []*pipeStream
	for _, s := range []Stream{h.stdout, h.stderr} {
		if ps, ok := s.(*pipeStream); ok {
			out = append(out, ps)
		}
	}
	return out
}
