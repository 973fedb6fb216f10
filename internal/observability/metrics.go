package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/execd/internal/executor"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "execd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	executorSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execd",
			Subsystem: "executor",
			Name:      "spawns_total",
			Help:      "Spawn attempts by result.",
		},
		[]string{"result"},
	)
	executorExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execd",
			Subsystem: "executor",
			Name:      "exits_total",
			Help:      "Observed process exits.",
		},
		[]string{"managed"},
	)
	executorKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execd",
			Subsystem: "executor",
			Name:      "kills_total",
			Help:      "Termination signals sent, by stage.",
		},
		[]string{"stage"},
	)
	executorManaged = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execd",
			Subsystem: "executor",
			Name:      "managed",
			Help:      "Managed processes by registry map.",
		},
		[]string{"map"},
	)
	executorTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "execd",
			Subsystem: "executor",
			Name:      "tracked",
			Help:      "Live processes known to the ownership tracer.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			executorSpawns,
			executorExits,
			executorKills,
			executorManaged,
			executorTracked,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// ExecutorMetrics feeds executor lifecycle hooks into the process registry.
type ExecutorMetrics struct{}

var _ executor.Metrics = ExecutorMetrics{}

func NewExecutorMetrics() ExecutorMetrics {
	RegisterMetrics()
	return ExecutorMetrics{}
}

func (ExecutorMetrics) Spawned(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	executorSpawns.WithLabelValues(result).Inc()
}

func (ExecutorMetrics) Exited(managed bool, _ int) {
	executorExits.WithLabelValues(strconv.FormatBool(managed)).Inc()
}

func (ExecutorMetrics) Killed(stage string) {
	executorKills.WithLabelValues(stage).Inc()
}

func (ExecutorMetrics) Managed(running, closed int) {
	executorManaged.WithLabelValues("running").Set(float64(running))
	executorManaged.WithLabelValues("closed").Set(float64(closed))
}

func (ExecutorMetrics) Tracked(alive int) {
	executorTracked.Set(float64(alive))
}
