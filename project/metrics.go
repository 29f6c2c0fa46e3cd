package project

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by a Registry and its graphs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	filesLoaded     *prometheus.GaugeVec
	filesPending    *prometheus.GaugeVec
	filesMissing    *prometheus.GaugeVec
	reads           *prometheus.CounterVec
	extractFailures *prometheus.CounterVec
	hostViolations  *prometheus.CounterVec
	projects        prometheus.Gauge
	configErrors    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tsproject",
			Name:      "files_loaded",
			Help:      "Files loaded into a project graph.",
		}, []string{"project"}),
		filesPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tsproject",
			Name:      "files_pending",
			Help:      "Files whose content read is in flight.",
		}, []string{"project"}),
		filesMissing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tsproject",
			Name:      "files_missing",
			Help:      "Referenced files whose content could not be read.",
		}, []string{"project"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tsproject",
			Name:      "file_reads_total",
			Help:      "File reads completed, by result.",
		}, []string{"project", "result"}),
		extractFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tsproject",
			Name:      "extract_failures_total",
			Help:      "Reference extraction failures.",
		}, []string{"project"}),
		hostViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tsproject",
			Name:      "host_contract_violations_total",
			Help:      "Host calls rejected as contract violations.",
		}, []string{"project"}),
		projects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsproject",
			Name:      "projects",
			Help:      "Live project graphs.",
		}),
		configErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsproject",
			Name:      "config_errors_total",
			Help:      "Project configurations skipped as invalid or unreadable.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.filesLoaded,
			m.filesPending,
			m.filesMissing,
			m.reads,
			m.extractFailures,
			m.hostViolations,
			m.projects,
			m.configErrors,
		)
	}
	return m
}

func (m *Metrics) setFileCounts(project string, loaded, pending, missing int) {
	if m == nil {
		return
	}
	m.filesLoaded.WithLabelValues(project).Set(float64(loaded))
	m.filesPending.WithLabelValues(project).Set(float64(pending))
	m.filesMissing.WithLabelValues(project).Set(float64(missing))
}

func (m *Metrics) read(project, result string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(project, result).Inc()
}

func (m *Metrics) extractFailure(project string) {
	if m == nil {
		return
	}
	m.extractFailures.WithLabelValues(project).Inc()
}

func (m *Metrics) hostViolation(project string) {
	if m == nil {
		return
	}
	m.hostViolations.WithLabelValues(project).Inc()
}

func (m *Metrics) setProjects(n int) {
	if m == nil {
		return
	}
	m.projects.Set(float64(n))
}

func (m *Metrics) configError() {
	if m == nil {
		return
	}
	m.configErrors.Inc()
}

// forget drops the per-project series of a disposed graph.
func (m *Metrics) forget(project string) {
	if m == nil {
		return
	}
	m.filesLoaded.DeleteLabelValues(project)
	m.filesPending.DeleteLabelValues(project)
	m.filesMissing.DeleteLabelValues(project)
	m.reads.DeletePartialMatch(prometheus.Labels{"project": project})
	m.extractFailures.DeleteLabelValues(project)
	m.hostViolations.DeleteLabelValues(project)
}
