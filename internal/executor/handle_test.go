package executor

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/execd/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) publish(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func spawnForTest(t *testing.T, cfg Config, job Job) (*Handle, *eventLog) {
	t.Helper()
	testlog.Start(t)
	events := &eventLog{}
	h, err := newHandle(newRequest(1, job, "test"), cfg, events.publish, log.Logger)
	if err != nil {
		t.Fatalf("spawn %s: %v", job.CommandLine(), err)
	}
	t.Cleanup(func() {
		h.Kill()
		_ = h.Close()
	})
	return h, events
}

func TestHandleCapturesOutputAndExitCode(t *testing.T) {
	h, _ := spawnForTest(t, testConfig(), NewJob("sh", "-c", "printf out; printf err >&2; exit 3"))

	if code := h.Wait(); code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := string(h.Stdout().Bytes()); got != "out" {
		t.Fatalf("unexpected stdout: %q", got)
	}
	if got := string(h.Stderr().Bytes()); got != "err" {
		t.Fatalf("unexpected stderr: %q", got)
	}
	if h.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", h.State())
	}
}

func TestHandleDiscardHasNoStreams(t *testing.T) {
	h, _ := spawnForTest(t, testConfig(), Job{Command: []string{"echo", "dropped"}, DiscardOutput: true})

	if h.Stdout().Fd() != -1 || h.Stderr().Fd() != -1 {
		t.Fatalf("discarding job should not carry pipes")
	}
	if code := h.Wait(); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if h.Stdout().Bytes() != nil {
		t.Fatalf("discarded output should stay empty")
	}
}

func TestHandlePollBeforeAndAfterExit(t *testing.T) {
	h, _ := spawnForTest(t, testConfig(), NewJob("false"))

	time.Sleep(50 * time.Millisecond)
	if _, ok := h.ReturnCode(); ok {
		t.Fatalf("return code set before observation")
	}
	waitFor(t, 5*time.Second, "false to exit", func() bool {
		_, exited := h.Poll()
		return exited
	})
	code, ok := h.ReturnCode()
	if !ok || code != 1 {
		t.Fatalf("expected observed code 1, got %d ok=%v", code, ok)
	}
	if h.State() != StateExited {
		t.Fatalf("expected exited state, got %s", h.State())
	}
}

func TestHandleKillTerminates(t *testing.T) {
	h, _ := spawnForTest(t, testConfig(), Job{Command: []string{"sleep", "30"}, DiscardOutput: true})

	if _, exited := h.Poll(); exited {
		t.Fatalf("sleep exited early")
	}
	h.Kill()
	code, ok := h.ReturnCode()
	if !ok || code != -15 {
		t.Fatalf("expected -15 after kill, got %d ok=%v", code, ok)
	}
}

func TestHandleKillEscalatesWhenTermIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.KillGrace = 200 * time.Millisecond
	metrics := newRecordingMetrics()
	cfg.Metrics = metrics
	h, _ := spawnForTest(t, cfg, NewJob("sh", "-c", `trap "" TERM; echo ready; while :; do sleep 0.1; done`))

	waitFor(t, 5*time.Second, "trap installed", func() bool {
		h.Stdout().Read()
		return strings.Contains(string(h.Stdout().Bytes()), "ready")
	})

	started := time.Now()
	h.Kill()
	elapsed := time.Since(started)

	code, ok := h.ReturnCode()
	if !ok || code != -9 {
		t.Fatalf("expected -9 after escalation, got %d ok=%v", code, ok)
	}
	if elapsed < cfg.KillGrace {
		t.Fatalf("escalated after %s, before the %s grace window", elapsed, cfg.KillGrace)
	}
	if metrics.killCount(KillStageTerm) != 1 || metrics.killCount(KillStageKill) != 1 {
		t.Fatalf("expected one term and one kill, got %v", metrics.kills)
	}
}

func TestHandleKillAndCloseAreIdempotent(t *testing.T) {
	h, events := spawnForTest(t, testConfig(), NewJob("sleep", "30"))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Kill()
		}()
	}
	wg.Wait()
	h.Kill()

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	h.Wait()
	h.Poll()

	if !h.Closed() {
		t.Fatalf("expected handle closed")
	}
	if n := events.count(EventExited); n != 1 {
		t.Fatalf("expected exactly one exit event, got %d", n)
	}
}

func TestHandleKillAfterExitIsNoop(t *testing.T) {
	metrics := newRecordingMetrics()
	cfg := testConfig()
	cfg.Metrics = metrics
	h, _ := spawnForTest(t, cfg, NewJob("true"))

	h.Wait()
	h.Kill()
	if code, _ := h.ReturnCode(); code != 0 {
		t.Fatalf("kill changed exit code to %d", code)
	}
	if metrics.killCount(KillStageTerm) != 0 {
		t.Fatalf("kill signalled an exited process")
	}
}

func TestExitStatusWithoutProcessState(t *testing.T) {
	if got := exitStatus(nil, nil); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}
