package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-mint-node/internal/domain"
)

// Pipeline instrumentation. Labels stay low-cardinality: stages and states
// come from fixed enumerations, never from request data.
var (
	// stageSteps counts service invocations by stage and outcome
	// (ok, conflict, error).
	stageSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_steps_total",
			Help: "Total pipeline stage invocations by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	// terminalRequests counts requests reaching a terminal state, by state
	// and failure reason ("" for DELIVERED).
	terminalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_terminal_requests_total",
			Help: "Total requests reaching a terminal state.",
		},
		[]string{"state", "reason"},
	)

	// queueDepth gauges ids currently waiting in the work queue.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of request ids in the work queue.",
		},
	)

	// queueDropped counts enqueue offers rejected by a full queue.
	queueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_queue_dropped_total",
			Help: "Total enqueue offers rejected because the queue was full.",
		},
	)

	// sweeperRequeues counts requests the sweeper put back on the queue.
	sweeperRequeues = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_sweeper_requeues_total",
			Help: "Total stale or unnotified requests re-enqueued by the sweeper.",
		},
	)
)

func init() {
	prometheus.MustRegister(stageSteps, terminalRequests, queueDepth, queueDropped, sweeperRequeues)
}

func recordTerminal(state domain.State, reason domain.Reason) {
	terminalRequests.WithLabelValues(string(state), string(reason)).Inc()
}
