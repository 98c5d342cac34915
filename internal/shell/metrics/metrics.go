// Package metrics exposes Prometheus collectors for command execution,
// deployments and event publishing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "launchpad"

// Command outcomes.
const (
	CommandOK          = "ok"
	CommandExitError   = "exit_error"
	CommandTimeout     = "timeout"
	CommandStartFailed = "start_failed"
	CommandRejected    = "rejected"
)

// Collector is a prometheus.Collector. A nil *Collector is valid and records
// nothing.
type Collector struct {
	commandRuns     *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	serviceDeploys  *prometheus.CounterVec
	deployRetries   prometheus.Counter
	bulkRuns        *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	activeRuns      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New returns a new Collector.
func New() *Collector {
	return &Collector{
		commandRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "commands_total",
				Help:      "Provider CLI invocations by command and outcome.",
			}, []string{"command", "outcome"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "command_duration_seconds",
				Help:      "Wall time of provider CLI invocations.",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			}, []string{"command"},
		),
		serviceDeploys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "service_deploys_total",
				Help:      "Settled service deployments by outcome.",
			}, []string{"status"},
		),
		deployRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "deploy_retries_total",
				Help:      "Deploy attempts repeated after a transient failure.",
			},
		),
		bulkRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "runs_total",
				Help:      "Completed deployment runs by aggregate status.",
			}, []string{"status"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Events handed to the broker by type.",
			}, []string{"type"},
		),
		publishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "publish_failures_total",
				Help:      "Events the broker rejected or never received.",
			}, []string{"type"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "active_runs",
				Help:      "Deployment runs currently in flight.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests by route, method and status code.",
			}, []string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"},
		),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.commandRuns, c.commandDuration, c.serviceDeploys, c.deployRetries,
		c.bulkRuns, c.eventsPublished, c.publishFailures, c.activeRuns,
		c.httpRequests, c.httpDuration,
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, col := range c.collectors() {
		col.Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, col := range c.collectors() {
		col.Collect(ch)
	}
}

// =============================================================================
// Recorders
// =============================================================================

func (c *Collector) ObserveCommand(command, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.commandRuns.WithLabelValues(command, outcome).Inc()
	c.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (c *Collector) ServiceDeployed(status string) {
	if c == nil {
		return
	}
	c.serviceDeploys.WithLabelValues(status).Inc()
}

func (c *Collector) DeployRetried() {
	if c == nil {
		return
	}
	c.deployRetries.Inc()
}

func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.activeRuns.Inc()
}

func (c *Collector) RunCompleted(status string) {
	if c == nil {
		return
	}
	c.activeRuns.Dec()
	c.bulkRuns.WithLabelValues(status).Inc()
}

func (c *Collector) EventPublished(eventType string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

func (c *Collector) PublishFailed(eventType string) {
	if c == nil {
		return
	}
	c.publishFailures.WithLabelValues(eventType).Inc()
}

// ObserveRequest records one API request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveRequest(route, method string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
