package executor

// Metrics receives executor lifecycle counts.
type Metrics interface {
	Spawned(ok bool)
	Exited(managed bool, code int)
	Killed(stage string)
	Managed(running, closed int)
	Tracked(alive int)
}

const (
	KillStageTerm = "term"
	KillStageKill = "kill"
)

type nopMetrics struct{}

func (nopMetrics) Spawned(bool)     {}
func (nopMetrics) Exited(bool, int) {}
func (nopMetrics) Killed(string)    {}
func (nopMetrics) Managed(int, int) {}
func (nopMetrics) Tracked(int)      {}
