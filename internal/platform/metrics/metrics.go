// Package metrics exposes task engine measurements to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/phrazzld/analyze/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analyze"

// NewRegistry creates a registry with the Go runtime and process collectors
// registered.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry:          registry,
		EnableOpenMetrics: true,
	})
}

// TaskMetrics records engine events. It implements task.Metrics.
type TaskMetrics struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	queueWait prometheus.Histogram
	runtime   *prometheus.HistogramVec
	evicted   prometheus.Counter
}

var _ task.Metrics = (*TaskMetrics)(nil)

// NewTaskMetrics creates the engine collectors and registers them.
func NewTaskMetrics(registerer prometheus.Registerer) (*TaskMetrics, error) {
	m := &TaskMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submissions_total",
			Help:      "Task submissions by outcome (accepted or the rejection kind).",
		}, []string{"outcome"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal state.",
		}, []string{"state"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_queue_wait_seconds",
			Help:      "Time tasks spent in the admission queue before a worker picked them up.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_runtime_seconds",
			Help:      "Wall-clock time of task execution by terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"state"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_evicted_total",
			Help:      "Finished tasks dropped from in-memory retention.",
		}),
	}

	for _, c := range []prometheus.Collector{m.submitted, m.finished, m.queueWait, m.runtime, m.evicted} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Submitted implements task.Metrics.
func (m *TaskMetrics) Submitted(outcome string) {
	m.submitted.WithLabelValues(outcome).Inc()
}

// Started implements task.Metrics.
func (m *TaskMetrics) Started(queueWait time.Duration) {
	m.queueWait.Observe(queueWait.Seconds())
}

// Finished implements task.Metrics.
func (m *TaskMetrics) Finished(state task.State, runtime time.Duration) {
	m.finished.WithLabelValues(string(state)).Inc()
	if runtime > 0 {
		m.runtime.WithLabelValues(string(state)).Observe(runtime.Seconds())
	}
}

// Evicted implements task.Metrics.
func (m *TaskMetrics) Evicted() {
	m.evicted.Inc()
}

// Snapshotter reports the current task counts.
type Snapshotter interface {
	Snapshot() task.Counts
}

// StoreCollector reports task counts per state and the admission queue
// depth at scrape time.
type StoreCollector struct {
	store      Snapshotter
	queueDepth func() int

	tasksDesc *prometheus.Desc
	queueDesc *prometheus.Desc
}

var _ prometheus.Collector = (*StoreCollector)(nil)

// NewStoreCollector creates a StoreCollector. queueDepth may be nil.
func NewStoreCollector(store Snapshotter, queueDepth func() int) *StoreCollector {
	return &StoreCollector{
		store:      store,
		queueDepth: queueDepth,
		tasksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks"),
			"Tasks currently held, by state.",
			[]string{"state"}, nil,
		),
		queueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "task_queue_depth"),
			"Admitted tasks waiting for a worker.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasksDesc
	ch <- c.queueDesc
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.store.Snapshot()
	for state, n := range map[task.State]int{
		task.StatePending:   counts.Pending,
		task.StateRunning:   counts.Running,
		task.StateSucceeded: counts.Succeeded,
		task.StateFailed:    counts.Failed,
		task.StateCancelled: counts.Cancelled,
	} {
		ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(n), string(state))
	}

	depth := 0
	if c.queueDepth != nil {
		depth = c.queueDepth()
	}
	ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(depth))
}
