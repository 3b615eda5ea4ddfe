// Package metrics exposes Prometheus instruments for imports, risk runs,
// narrative reports and background tasks. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paygap"

// Metrics holds every instrument the engine records.
type Metrics struct {
	importsTotal     *prometheus.CounterVec
	importRowsTotal  *prometheus.CounterVec
	mappingTotal     *prometheus.CounterVec
	assistFailures   *prometheus.CounterVec
	riskRunsTotal    *prometheus.CounterVec
	riskRunDuration  prometheus.Histogram
	riskGroupsTotal  *prometheus.CounterVec
	reportsTotal     *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	auditEventsTotal *prometheus.CounterVec
}

// New registers all instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		importsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Import jobs that reached a terminal state.",
		}, []string{"status"}),
		importRowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported rows by outcome (created, updated, error).",
		}, []string{"outcome"}),
		mappingTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_resolutions_total",
			Help:      "Column mapping resolutions by source (ai, deterministic).",
		}, []string{"source"}),
		assistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assist_failures_total",
			Help:      "Text-generation calls that fell back, by call site and error type.",
		}, []string{"call", "error_type"}),
		riskRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_runs_total",
			Help:      "Risk runs that reached a terminal state.",
		}, []string{"status", "trigger"}),
		riskRunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_run_duration_seconds",
			Help:      "Time spent computing a risk run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		riskGroupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_groups_total",
			Help:      "Comparator group results by risk state.",
		}, []string{"risk_state"}),
		reportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrative_reports_total",
			Help:      "Narrative report attempts by outcome (generated, empty, failed).",
		}, []string{"outcome"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Background task run time by task name and final status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}, []string{"task", "status"}),
		auditEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events by delivery result (published, logged, dropped).",
		}, []string{"result"}),
	}
}

// ImportFinished counts a terminal import job.
func (m *Metrics) ImportFinished(status string, created, updated, errors int) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(status).Inc()
	m.importRowsTotal.WithLabelValues("created").Add(float64(created))
	m.importRowsTotal.WithLabelValues("updated").Add(float64(updated))
	m.importRowsTotal.WithLabelValues("error").Add(float64(errors))
}

// MappingResolved counts one resolver result.
func (m *Metrics) MappingResolved(source string) {
	if m == nil {
		return
	}
	m.mappingTotal.WithLabelValues(source).Inc()
}

// AssistFailed counts a text-generation call that was abandoned for the fallback path.
func (m *Metrics) AssistFailed(call, errorType string) {
	if m == nil {
		return
	}
	m.assistFailures.WithLabelValues(call, errorType).Inc()
}

// RiskRunFinished records a terminal risk run.
func (m *Metrics) RiskRunFinished(status, trigger string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.riskRunsTotal.WithLabelValues(status, trigger).Inc()
	m.riskRunDuration.Observe(elapsed.Seconds())
}

// RiskGroupClassified counts one persisted group result.
func (m *Metrics) RiskGroupClassified(state string) {
	if m == nil {
		return
	}
	m.riskGroupsTotal.WithLabelValues(state).Inc()
}

// ReportAttempted counts one narrative report attempt.
func (m *Metrics) ReportAttempted(outcome string) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(outcome).Inc()
}

// TaskFinished observes a background task's run time.
func (m *Metrics) TaskFinished(task, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(task, status).Observe(elapsed.Seconds())
}

// AuditEvent counts one audit event delivery result.
func (m *Metrics) AuditEvent(result string) {
	if m == nil {
		return
	}
	m.auditEventsTotal.WithLabelValues(result).Inc()
}
