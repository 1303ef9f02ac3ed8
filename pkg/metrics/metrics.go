package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry holds all metakeeper collectors. A dedicated registry keeps
	// the textfile export free of Go runtime noise.
	Registry = prometheus.NewRegistry()

	// Lifecycle action metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metakeeper_actions_total",
			Help: "Total number of lifecycle actions by action and status",
		},
		[]string{"action", "status"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metakeeper_action_duration_seconds",
			Help:    "Lifecycle action duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Probe metrics
	ProbeRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metakeeper_probe_retries_total",
			Help: "Total number of transient probe faults retried",
		},
	)

	ProbeFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metakeeper_probe_faults_total",
			Help: "Total number of probe faults by class",
		},
		[]string{"class"},
	)

	// Reconciler metrics
	VoteScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "metakeeper_vote_score",
			Help: "Promotion weight most recently fed to the cluster manager",
		},
	)

	MetadataVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "metakeeper_metadata_version",
			Help: "Local metadata version observed by the last probe",
		},
	)

	AttributeWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metakeeper_attribute_writes_total",
			Help: "Total number of cluster attribute publishes",
		},
	)

	// Promotion metrics
	PromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metakeeper_promotions_total",
			Help: "Total number of promotion attempts by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// Snapshot metrics
	RotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metakeeper_snapshot_rotations_total",
			Help: "Total number of snapshot generation rotations",
		},
	)

	ArchivesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metakeeper_snapshot_archives_pruned_total",
			Help: "Total number of snapshot archives deleted past retention",
		},
	)
)

func init() {
	Registry.MustRegister(ActionsTotal)
	Registry.MustRegister(ActionDuration)
	Registry.MustRegister(ProbeRetriesTotal)
	Registry.MustRegister(ProbeFaultsTotal)
	Registry.MustRegister(VoteScore)
	Registry.MustRegister(MetadataVersion)
	Registry.MustRegister(AttributeWritesTotal)
	Registry.MustRegister(PromotionsTotal)
	Registry.MustRegister(RotationsTotal)
	Registry.MustRegister(ArchivesPrunedTotal)
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer creates a timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}
