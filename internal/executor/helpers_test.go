package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/execd/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ManagerIdleInterval = 20 * time.Millisecond
	cfg.ReadinessTimeout = 20 * time.Millisecond
	cfg.KillGrace = 300 * time.Millisecond
	return cfg
}

func startExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	testlog.Start(t)
	e := New(cfg, log.Logger)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingMetrics struct {
	mu        sync.Mutex
	spawnedOK int
	spawnedKO int
	exits     []int
	kills     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{kills: make(map[string]int)}
}

func (m *recordingMetrics) Spawned(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.spawnedOK++
	} else {
		m.spawnedKO++
	}
}

func (m *recordingMetrics) Exited(_ bool, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits = append(m.exits, code)
}

func (m *recordingMetrics) Killed(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kills[stage]++
}

func (m *recordingMetrics) Managed(int, int) {}
func (m *recordingMetrics) Tracked(int)      {}

func (m *recordingMetrics) spawns() (ok, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawnedOK, m.spawnedKO
}

func (m *recordingMetrics) killCount(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kills[stage]
}

func testLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	testlog.Start(t)
	return log.Logger
}
