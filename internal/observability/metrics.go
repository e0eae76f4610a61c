package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunCounters holds the counters a long-lived worker exports about runs.
type RunCounters struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StepDuration     *prometheus.HistogramVec
	RecoveriesTotal  *prometheus.CounterVec
	SnapshotBytes    prometheus.Gauge
	ActiveRuns       prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewRunCounters creates a registry with the snapcheck metrics plus the Go
// runtime and process collectors.
func NewRunCounters() *RunCounters {
	r := prometheus.NewRegistry()
	m := &RunCounters{
		registry: r,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcheck_runs_total",
			Help: "Round-trip runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapcheck_run_duration_seconds",
			Help:    "Round-trip run duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapcheck_step_duration_seconds",
			Help:    "Duration of each run step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "result"}),
		RecoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcheck_recoveries_total",
			Help: "Snapshot recoveries by method and result.",
		}, []string{"method", "result"}),
		SnapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapcheck_snapshot_bytes",
			Help: "Size of the most recently downloaded snapshot.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapcheck_active_runs",
			Help: "Runs currently in progress.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapcheck_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	r.MustRegister(
		m.RunsTotal, m.RunDuration, m.StepDuration, m.RecoveriesTotal,
		m.SnapshotBytes, m.ActiveRuns, m.LastRunTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *RunCounters) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *RunCounters) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStarted marks a run in progress.
func (m *RunCounters) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished records a finished run.
func (m *RunCounters) RunFinished(duration time.Duration, err error) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(result(err)).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

// ObserveStep records one step's duration.
func (m *RunCounters) ObserveStep(step string, duration time.Duration, err error) {
	m.StepDuration.WithLabelValues(step, result(err)).Observe(duration.Seconds())
}

// ObserveRecovery counts one recovery attempt.
func (m *RunCounters) ObserveRecovery(method string, err error) {
	m.RecoveriesTotal.WithLabelValues(method, result(err)).Inc()
}

// ObserveSnapshot records the downloaded snapshot size.
func (m *RunCounters) ObserveSnapshot(size int64) {
	m.SnapshotBytes.Set(float64(size))
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "passed"
}
