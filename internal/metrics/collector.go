// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates prometheus instrumentation for the engine.
type Collector struct {
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionsInFlight prometheus.Gauge

	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec

	compensationsTotal *prometheus.CounterVec
	publishFailures    prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector registered against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid global registration clashes.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"definition", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"definition"},
	)

	c.executionsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Number of currently running workflow executions",
		},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of step attempts by type and outcome",
		},
		[]string{"step_type", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step_type"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of step retry dispatches",
		},
		[]string{"step_type"},
	)

	c.compensationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Total number of compensating actions by result",
		},
		[]string{"result"},
	)

	c.publishFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Total number of event publish failures (logged, never fatal)",
		},
	)

	return c
}

// ExecutionStarted records an execution entering Running.
func (c *Collector) ExecutionStarted() {
	c.executionsInFlight.Inc()
}

// ExecutionFinished records an execution reaching a terminal status.
func (c *Collector) ExecutionFinished(definition, status string, duration time.Duration) {
	c.executionsInFlight.Dec()
	c.executionsTotal.WithLabelValues(definition, status).Inc()
	c.executionDuration.WithLabelValues(definition).Observe(duration.Seconds())
}

// StepFinished records one settled step attempt.
func (c *Collector) StepFinished(stepType, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(stepType, status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// StepRetried records a retry dispatch.
func (c *Collector) StepRetried(stepType string) {
	c.retriesTotal.WithLabelValues(stepType).Inc()
}

// CompensationFinished records one compensating action outcome.
func (c *Collector) CompensationFinished(result string) {
	c.compensationsTotal.WithLabelValues(result).Inc()
}

// PublishFailed records a failed event publish.
func (c *Collector) PublishFailed() {
	c.publishFailures.Inc()
}
