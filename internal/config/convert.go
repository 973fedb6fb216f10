package config

import "github.com/danmuck/execd/internal/executor"

// ToExecutor converts the [executor] table. Zero values fall back to the
// executor defaults; metrics are wired by the caller.
func (c DaemonConfig) ToExecutor(metrics executor.Metrics) executor.Config {
	return executor.Config{
		QueueSize:           c.Executor.QueueSize,
		ActivityBuffer:      c.Executor.ActivityBuffer,
		ManagerIdleInterval: c.Executor.ManagerIdleInterval.Duration,
		ReadinessTimeout:    c.Executor.ReadinessTimeout.Duration,
		KillGrace:           c.Executor.KillGrace.Duration,
		ReadChunkSize:       c.Executor.ReadChunkSize,
		Metrics:             metrics,
	}.WithDefaults()
}
