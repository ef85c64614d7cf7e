package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	// Ingestion metrics
	AssignmentRows *prometheus.CounterVec
	PolicyRows     *prometheus.CounterVec
	UsersResolved  prometheus.Gauge
	ActivePolicies prometheus.Gauge
	IngestDuration prometheus.Histogram

	// Detection metrics
	ViolationsDetected prometheus.Gauge
	DetectionRuns      prometheus.Counter
	DetectionDuration  prometheus.Histogram

	// Justification metrics
	JustificationFailures prometheus.Counter
}

// NewRegistry creates and registers all application metrics against the
// given registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		AssignmentRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sod_assignment_rows_total",
			Help: "Assignment rows processed, partitioned by outcome.",
		}, []string{"outcome"}),
		PolicyRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sod_policy_rows_total",
			Help: "Policy rows processed, partitioned by outcome.",
		}, []string{"outcome"}),
		UsersResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sod_users_resolved",
			Help: "Users resolved by the last ingestion batch.",
		}),
		ActivePolicies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sod_active_policies",
			Help: "Policies in the active policy set.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sod_ingest_duration_seconds",
			Help:    "Duration of full ingestion batches.",
			Buckets: prometheus.DefBuckets,
		}),
		ViolationsDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sod_violations_detected",
			Help: "Users with violations in the last detection run.",
		}),
		DetectionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sod_detection_runs_total",
			Help: "Detection runs executed.",
		}),
		DetectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sod_detection_duration_seconds",
			Help:    "Duration of detection runs.",
			Buckets: prometheus.DefBuckets,
		}),
		JustificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sod_justification_failures_total",
			Help: "LLM justification attempts that fell back to the mock provider.",
		}),
	}

	reg.MustRegister(
		r.AssignmentRows,
		r.PolicyRows,
		r.UsersResolved,
		r.ActivePolicies,
		r.IngestDuration,
		r.ViolationsDetected,
		r.DetectionRuns,
		r.DetectionDuration,
		r.JustificationFailures,
	)

	return r
}

// Outcome label values.
const (
	OutcomeValid    = "valid"
	OutcomeCorrupt  = "corrupt"
	OutcomeFiltered = "filtered"
)
