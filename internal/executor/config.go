package executor

import "time"

// Config holds executor timing and sizing knobs.
type Config struct {
	// WorkerOwner is the identity managed jobs are re-owned to.
	WorkerOwner Owner
	// QueueSize bounds pending spawn requests.
	QueueSize int
	// ActivityBuffer bounds undelivered creation/exit events.
	ActivityBuffer int
	// ManagerIdleInterval is the managed loop sleep when nothing runs.
	ManagerIdleInterval time.Duration
	// ReadinessTimeout bounds one readiness wait over managed output pipes.
	ReadinessTimeout time.Duration
	// KillGrace is how long Kill waits after SIGTERM before SIGKILL.
	KillGrace time.Duration
	// ReadChunkSize is the per-syscall read size for captured output.
	ReadChunkSize int
	Metrics       Metrics
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		WorkerOwner:         OwnerWorker,
		QueueSize:           64,
		ActivityBuffer:      256,
		ManagerIdleInterval: 200 * time.Millisecond,
		ReadinessTimeout:    100 * time.Millisecond,
		KillGrace:           3 * time.Second,
		ReadChunkSize:       32 * 1024,
		Metrics:             nopMetrics{},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.WorkerOwner == "" {
		c.WorkerOwner = def.WorkerOwner
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.ActivityBuffer <= 0 {
		c.ActivityBuffer = def.ActivityBuffer
	}
	if c.ManagerIdleInterval <= 0 {
		c.ManagerIdleInterval = def.ManagerIdleInterval
	}
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = def.ReadinessTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = def.KillGrace
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = def.ReadChunkSize
	}
	if c.Metrics == nil {
		c.Metrics = def.Metrics
	}
	return c
}
