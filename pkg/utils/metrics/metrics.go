package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects agent runtime metrics. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	memoryWrites *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comanager",
			Name:      "turns_total",
			Help:      "Number of agent turns by persona and terminal state",
		}, []string{"persona", "state"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "comanager",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of agent turns until the stream is closed",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"persona"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comanager",
			Name:      "tool_calls_total",
			Help:      "Number of tool invocations by persona, tool and status",
		}, []string{"persona", "tool", "status"}),
		memoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comanager",
			Name:      "memory_writes_total",
			Help:      "Number of memory writes by result",
		}, []string{"result"}),
	}

	reg.MustRegister(r.turns, r.turnDuration, r.toolCalls, r.memoryWrites)
	return r
}

// TurnFinished records a turn reaching a terminal state
func (r *Recorder) TurnFinished(persona, state string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(persona, state).Inc()
	r.turnDuration.WithLabelValues(persona).Observe(elapsed.Seconds())
}

// ToolInvoked records one tool invocation
func (r *Recorder) ToolInvoked(persona, tool string, failed bool) {
	if r == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	r.toolCalls.WithLabelValues(persona, tool, status).Inc()
}

// MemoryWritten records the result of a memory write
func (r *Recorder) MemoryWritten(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.memoryWrites.WithLabelValues(result).Inc()
}
