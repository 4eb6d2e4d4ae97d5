package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the agent runtime.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	modelCalls    prometheus.Counter
	loopSteps     prometheus.Histogram
	tokensTotal   *prometheus.CounterVec
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquarius_queries_total",
			Help: "Queries handled, by outcome.",
		}, []string{"status"}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aquarius_query_duration_seconds",
			Help:    "End-to-end query latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquarius_tool_calls_total",
			Help: "Tool invocations, by tool and outcome.",
		}, []string{"tool", "status"}),
		modelCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "aquarius_model_calls_total",
			Help: "Model inference calls.",
		}),
		loopSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aquarius_loop_steps",
			Help:    "Reasoning steps per query.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquarius_tokens_total",
			Help: "Tokens consumed, by direction.",
		}, []string{"type"}),
	}
}

// RecordQuery records one completed query.
func (m *Metrics) RecordQuery(status string, duration time.Duration, steps int) {
	m.queriesTotal.WithLabelValues(status).Inc()
	m.queryDuration.Observe(duration.Seconds())
	m.loopSteps.Observe(float64(steps))
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool, status string) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordModelCall records one model call and its token usage.
func (m *Metrics) RecordModelCall(inputTokens, outputTokens int) {
	m.modelCalls.Inc()
	m.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
