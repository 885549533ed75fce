package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEntriesTotal            = "audit_entries_total"
	MetricWriteErrorsTotal        = "audit_write_errors_total"
	MetricChainVerificationsTotal = "audit_chain_verifications_total"
	MetricIntegrityFailuresTotal  = "audit_integrity_failures_total"
	MetricBatchDurationSeconds    = "audit_batch_verification_duration_seconds"
	MetricLastBatchObjects        = "audit_last_batch_objects_checked"
	MetricVerifyJobRunsTotal      = "audit_verify_job_runs_total"
)

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics contains Prometheus metrics for audit writes and chain
// verification. All operations are thread-safe.
type Metrics struct {
	entriesTotal       *prometheus.CounterVec
	writeErrors        *prometheus.CounterVec
	verificationsTotal *prometheus.CounterVec
	integrityFailures  *prometheus.CounterVec
	batchDuration      prometheus.Histogram
	lastBatchObjects   prometheus.Gauge
	jobRuns            *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to
// register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEntriesTotal,
				Help: "Total number of audit entries recorded by module and chaining",
			},
			[]string{"module", "chained"},
		),
		writeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWriteErrorsTotal,
				Help: "Total number of failed audit writes by module",
			},
			[]string{"module"},
		),
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricChainVerificationsTotal,
				Help: "Total number of per-object chain verifications by result",
			},
			[]string{"result"},
		),
		integrityFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIntegrityFailuresTotal,
				Help: "Total number of chain integrity failures by failure code",
			},
			[]string{"code"},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricBatchDurationSeconds,
				Help:    "Histogram of batch verification duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
		),
		lastBatchObjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricLastBatchObjects,
				Help: "Number of objects checked by the most recent batch verification",
			},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricVerifyJobRunsTotal,
				Help: "Total number of scheduled verification job runs by status",
			},
			[]string{"status"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.entriesTotal,
		m.writeErrors,
		m.verificationsTotal,
		m.integrityFailures,
		m.batchDuration,
		m.lastBatchObjects,
		m.jobRuns,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEntries increments the recorded-entries counter.
func (m *Metrics) IncEntries(module string, chained bool) {
	label := "false"
	if chained {
		label = "true"
	}
	m.entriesTotal.WithLabelValues(module, label).Inc()
}

// IncWriteErrors increments the failed-writes counter.
func (m *Metrics) IncWriteErrors(module string) {
	m.writeErrors.WithLabelValues(module).Inc()
}

// IncChainVerifications increments the per-object verification counter.
func (m *Metrics) IncChainVerifications(ok bool) {
	result := ResultFailed
	if ok {
		result = ResultOK
	}
	m.verificationsTotal.WithLabelValues(result).Inc()
}

// IncIntegrityFailures increments the integrity-failure counter for a
// failure code.
func (m *Metrics) IncIntegrityFailures(code string) {
	m.integrityFailures.WithLabelValues(code).Inc()
}

// ObserveBatchDuration records one batch verification duration sample.
func (m *Metrics) ObserveBatchDuration(seconds float64) {
	m.batchDuration.Observe(seconds)
}

// SetLastBatchObjects records the object count of the latest batch run.
func (m *Metrics) SetLastBatchObjects(count float64) {
	m.lastBatchObjects.Set(count)
}

// IncJobRuns increments the scheduled job run counter.
func (m *Metrics) IncJobRuns(status string) {
	m.jobRuns.WithLabelValues(status).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.entriesTotal,
		m.writeErrors,
		m.verificationsTotal,
		m.integrityFailures,
		m.batchDuration,
		m.lastBatchObjects,
		m.jobRuns,
	}
}
