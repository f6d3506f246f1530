package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes dispatcher admission state the way the teacher's
// graph/metrics.go PrometheusMetrics exposes scheduler state: gauges for
// point-in-time queue depth, counters for cumulative admission events.
// Registered once at package init so that constructing more than one
// Dispatcher (as tests do) never double-registers a collector.
type Metrics struct {
	pendingTasks  prometheus.Gauge
	runningTasks  *prometheus.GaugeVec
	admittedTotal prometheus.Counter
}

var (
	pendingTasksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stagekit_dispatch_pending_tasks",
		Help: "Tasks waiting for node admission.",
	})
	runningTasksGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stagekit_dispatch_running_tasks",
		Help: "Admitted tasks currently occupying node share, by kind.",
	}, []string{"kind"})
	admittedTotalCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stagekit_dispatch_admitted_total",
		Help: "Total tasks admitted past the pending queue.",
	})
)

func init() {
	prometheus.MustRegister(pendingTasksGauge, runningTasksGauge, admittedTotalCounter)
}

func newMetrics() *Metrics {
	return &Metrics{
		pendingTasks:  pendingTasksGauge,
		runningTasks:  runningTasksGauge,
		admittedTotal: admittedTotalCounter,
	}
}
