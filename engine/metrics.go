package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters.
type Metrics struct {
	cycles         *prometheus.CounterVec
	safetyBlocks   *prometheus.CounterVec
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	recoveries     prometheus.Counter
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcycle",
			Name:      "cycles_total",
			Help:      "Cycles executed, labelled by resulting workflow state.",
		}, []string{"state"}),
		safetyBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcycle",
			Name:      "safety_blocks_total",
			Help:      "Cycles blocked by the safety orchestrator, by recommended action.",
		}, []string{"action"}),
		tasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcycle",
			Name:      "tasks_completed_total",
			Help:      "Tasks completed successfully.",
		}),
		tasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcycle",
			Name:      "tasks_failed_total",
			Help:      "Task executions that returned an error.",
		}),
		recoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcycle",
			Name:      "error_recoveries_total",
			Help:      "Transitions into error recovery.",
		}),
	}
}

func (m *Metrics) observeCycle(state string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(state).Inc()
}

func (m *Metrics) observeSafetyBlock(action string) {
	if m == nil {
		return
	}
	m.safetyBlocks.WithLabelValues(action).Inc()
}

func (m *Metrics) observeTask(success bool) {
	if m == nil {
		return
	}
	if success {
		m.tasksCompleted.Inc()
	} else {
		m.tasksFailed.Inc()
	}
}

func (m *Metrics) observeRecovery() {
	if m == nil {
		return
	}
	m.recoveries.Inc()
}
