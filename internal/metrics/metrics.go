// Package metrics exposes run and table counters for backup, restore and
// initialization runs in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mysql_mirror"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Collector records engine activity. All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
	tablesTotal     *prometheus.CounterVec
	rowsTotal       *prometheus.CounterVec
	tableDuration   *prometheus.HistogramVec
	statusWriteFail prometheus.Counter
}

// NewCollector creates a collector registered on its own registry, together
// with the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of engine runs by operation and outcome",
		}, []string{"operation", "outcome"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of engine runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"operation"}),

		runsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of engine runs currently executing",
		}, []string{"operation"}),

		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run by operation",
		}, []string{"operation"}),

		tablesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_replicated_total",
			Help:      "Total number of table copies by operation and outcome",
		}, []string{"operation", "outcome"}),

		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_copied_total",
			Help:      "Total number of rows written to destination tables",
		}, []string{"operation"}),

		tableDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_duration_seconds",
			Help:      "Duration of single table copies in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		statusWriteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_write_failures_total",
			Help:      "Total number of status record writes that failed",
		}),
	}

	c.registry.MustRegister(
		c.runsTotal,
		c.runDuration,
		c.runsInFlight,
		c.lastSuccess,
		c.tablesTotal,
		c.rowsTotal,
		c.tableDuration,
		c.statusWriteFail,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RunStarted marks a run as in flight
func (c *Collector) RunStarted(operation string) {
	c.runsInFlight.WithLabelValues(operation).Inc()
}

// RunFinished records the outcome of a run
func (c *Collector) RunFinished(operation string, duration time.Duration, err error) {
	c.runsInFlight.WithLabelValues(operation).Dec()
	c.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.runsTotal.WithLabelValues(operation, outcome(err)).Inc()
	if err == nil {
		c.lastSuccess.WithLabelValues(operation).SetToCurrentTime()
	}
}

// TableReplicated records one table copy
func (c *Collector) TableReplicated(operation string, rows int64, duration time.Duration, err error) {
	c.tablesTotal.WithLabelValues(operation, outcome(err)).Inc()
	c.tableDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if rows > 0 {
		c.rowsTotal.WithLabelValues(operation).Add(float64(rows))
	}
}

// StatusWriteFailed counts a status record write that could not be persisted
func (c *Collector) StatusWriteFailed() {
	c.statusWriteFail.Inc()
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}
