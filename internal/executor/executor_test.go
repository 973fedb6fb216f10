package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/execd/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestCreateJobSerializesSpawns(t *testing.T) {
	testlog.Start(t)
	e := New(testConfig(), log.Logger)
	spawn := e.spawn
	var active, overlaps atomic.Int32
	e.spawn = func(req *Request) (*Handle, error) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer active.Add(-1)
		time.Sleep(2 * time.Millisecond)
		return spawn(req)
	}
	e.Start()
	defer e.Stop()

	const submitters = 16
	var wg sync.WaitGroup
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := e.CreateJob(context.Background(), NewJob("true"))
			if err != nil {
				errs <- err
				return
			}
			if code := h.Wait(); code != 0 {
				errs <- errors.New("true exited non-zero")
			}
			_ = h.Close()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("submitter: %v", err)
	}
	if n := overlaps.Load(); n != 0 {
		t.Fatalf("observed %d overlapping spawns", n)
	}
}

func TestCreateJobRejectsEmptyCommand(t *testing.T) {
	e := startExecutor(t, testConfig())

	for _, job := range []Job{{}, {Command: []string{""}}, {Command: []string{"  ", "x"}}} {
		if _, err := e.CreateJob(context.Background(), job); !errors.Is(err, ErrEmptyCommand) {
			t.Fatalf("expected empty command error for %#v, got %v", job.Command, err)
		}
	}
}

func TestCreateJobSpawnFailure(t *testing.T) {
	cfg := testConfig()
	metrics := newRecordingMetrics()
	cfg.Metrics = metrics
	e := startExecutor(t, cfg)

	h, err := e.CreateJob(context.Background(), NewJob("/nonexistent/definitely-not-here", "arg"))
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
	if h != nil {
		t.Fatalf("expected no handle on failure")
	}
	if ok, failed := metrics.spawns(); ok != 0 || failed != 1 {
		t.Fatalf("unexpected spawn metrics ok=%d failed=%d", ok, failed)
	}

	// The dispatcher keeps serving after a failure.
	if _, err := e.CreateJob(context.Background(), NewJob("true")); err != nil {
		t.Fatalf("create after failure: %v", err)
	}
}

func TestStopKillsEverything(t *testing.T) {
	testlog.Start(t)
	e := New(testConfig(), log.Logger)
	e.Start()

	ctx := WithOwner(context.Background(), "owner.stop")
	unmanaged, err := e.CreateJob(ctx, Job{Command: []string{"sleep", "30"}, DiscardOutput: true})
	if err != nil {
		t.Fatalf("create unmanaged: %v", err)
	}
	managed, err := e.CreateJob(ctx, Job{Command: []string{"sleep", "30"}, Managed: true})
	if err != nil {
		t.Fatalf("create managed: %v", err)
	}

	e.Stop()
	for _, h := range []*Handle{unmanaged, managed} {
		code, ok := h.ReturnCode()
		if !ok || code != -15 {
			t.Fatalf("pid %d: expected -15 after stop, got %d ok=%v", h.Pid(), code, ok)
		}
	}
	if got := e.Tracer().Alive(); got != 0 {
		t.Fatalf("expected empty tracer after stop, got %d", got)
	}

	if _, err := e.CreateJob(ctx, NewJob("true")); !errors.Is(err, ErrExecutorStopped) {
		t.Fatalf("expected stopped error, got %v", err)
	}
	e.Stop()
}

func TestCreateJobHonorsContextWhileQueued(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.QueueSize = 1
	e := New(cfg, log.Logger)
	defer e.Stop()

	// Not started: the first request fills the queue and the second waits.
	go func() { _, _ = e.CreateJob(context.Background(), NewJob("true")) }()
	waitFor(t, time.Second, "queue to fill", func() bool { return len(e.pending) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.CreateJob(ctx, NewJob("true")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStopFailsQueuedRequests(t *testing.T) {
	testlog.Start(t)
	e := New(testConfig(), log.Logger)

	// Never started, so the request sits in the queue until Stop.
	errs := make(chan error, 1)
	go func() {
		_, err := e.CreateJob(context.Background(), NewJob("true"))
		errs <- err
	}()
	waitFor(t, time.Second, "request to queue", func() bool { return len(e.pending) == 1 })

	e.Stop()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrExecutorStopped) {
			t.Fatalf("expected ErrExecutorStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued request never answered")
	}
}

func TestDispatchLoopDoesNotSpawnAfterCancel(t *testing.T) {
	testlog.Start(t)
	e := New(testConfig(), log.Logger)
	var spawned atomic.Int32
	e.spawn = func(*Request) (*Handle, error) {
		spawned.Add(1)
		return nil, errors.New("must not spawn")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// select picks between ctx.Done and the queue at random; run enough
	// rounds to hit both branches.
	for i := 0; i < 64; i++ {
		req := newRequest(uint64(i), NewJob("true"), OwnerUnknown)
		e.pending <- req
		e.dispatchLoop(ctx)
		e.failPending()
		res := <-req.reply
		if !errors.Is(res.err, ErrExecutorStopped) || res.handle != nil {
			t.Fatalf("round %d: expected ErrExecutorStopped, got %v", i, res.err)
		}
	}
	if n := spawned.Load(); n != 0 {
		t.Fatalf("spawned %d jobs after cancel", n)
	}
}

func TestPopenMatchesCreateJob(t *testing.T) {
	e := startExecutor(t, testConfig())

	h, err := e.Popen(context.Background(), []string{"echo", "popen"}, false, false)
	if err != nil {
		t.Fatalf("popen: %v", err)
	}
	if code := h.Wait(); code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
	_ = h.Close()
	if got := string(h.Stdout().Bytes()); got != "popen\n" {
		t.Fatalf("unexpected stdout: %q", got)
	}
	if got := h.Request().Owner(); got != OwnerUnknown {
		t.Fatalf("expected unknown owner, got %q", got)
	}
}
