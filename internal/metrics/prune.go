package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anvilprune/anvilprune/internal/prune"
)

const namespace = "anvilprune"

// StatusSuccess and StatusFailure are the status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Chunk decision label values.
const (
	DecisionKept    = "kept"
	DecisionDeleted = "deleted"
)

// PruneMetrics holds the run metrics of a sweep. It implements
// sweep.ProgressSink and is safe for concurrent use by all workers.
type PruneMetrics struct {
	// ContainersTotal counts processed containers.
	// Labels: outcome (unchanged, rewritten, deleted, failed)
	ContainersTotal *prometheus.CounterVec

	// ContainersDiscovered is the number of containers the current sweep found.
	ContainersDiscovered prometheus.Gauge

	// ChunksTotal counts evaluated chunks. Labels: decision (kept, deleted)
	ChunksTotal *prometheus.CounterVec

	// ErrorsTotal counts chunk and container failures.
	// Labels: kind (io, corrupt_header, decode, parse, internal)
	ErrorsTotal *prometheus.CounterVec

	BytesReclaimedTotal  prometheus.Counter
	ExternalRemovedTotal prometheus.Counter

	// ContainerDuration tracks per-container processing time. Labels: outcome
	ContainerDuration *prometheus.HistogramVec
}

// DefaultContainerDurationBuckets span a header-only container (well under a
// millisecond) to a large, fully populated one on slow storage.
var DefaultContainerDurationBuckets = []float64{
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	10.0,   // 10s
}

// NewPruneMetrics creates prune metrics registered with the default registry.
func NewPruneMetrics() *PruneMetrics {
	return NewPruneMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewPruneMetricsWithRegistry creates prune metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewPruneMetricsWithRegistry(reg prometheus.Registerer) *PruneMetrics {
	factory := promauto.With(reg)
	m := &PruneMetrics{
		ContainersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "containers",
				Name:      "processed_total",
				Help:      "Total number of processed containers, broken down by outcome.",
			},
			[]string{"outcome"},
		),
		ContainersDiscovered: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "containers",
				Name:      "discovered",
				Help:      "Number of containers found by the current sweep.",
			},
		),
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chunks",
				Name:      "total",
				Help:      "Total number of evaluated chunks, broken down by decision.",
			},
			[]string{"decision"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of chunk and container failures, broken down by kind.",
			},
			[]string{"kind"},
		),
		BytesReclaimedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_reclaimed_total",
				Help:      "Total bytes freed by compaction and container deletion.",
			},
		),
		ExternalRemovedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_files_removed_total",
				Help:      "Total number of external chunk files removed.",
			},
		),
		ContainerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "containers",
				Name:      "duration_seconds",
				Help:      "Per-container processing time in seconds, broken down by outcome.",
				Buckets:   DefaultContainerDurationBuckets,
			},
			[]string{"outcome"},
		),
	}

	// Pre-create every label so dashboards see zeros instead of gaps.
	for _, o := range []prune.Outcome{prune.OutcomeUnchanged, prune.OutcomeRewritten, prune.OutcomeDeleted, prune.OutcomeFailed} {
		m.ContainersTotal.WithLabelValues(o.String())
	}
	m.ChunksTotal.WithLabelValues(DecisionKept)
	m.ChunksTotal.WithLabelValues(DecisionDeleted)
	for k := range prune.NumErrorKinds {
		m.ErrorsTotal.WithLabelValues(prune.ErrorKind(k).String())
	}
	return m
}

// Discovered records the size of the sweep.
func (m *PruneMetrics) Discovered(n int) {
	m.ContainersDiscovered.Set(float64(n))
}

// ContainerDone records one container result. Counting mirrors prune.Stats:
// a failed container contributes its scanned chunks and chunk errors only.
func (m *PruneMetrics) ContainerDone(r prune.Result) {
	outcome := r.Outcome.String()
	m.ContainersTotal.WithLabelValues(outcome).Inc()
	m.ContainerDuration.WithLabelValues(outcome).Observe(r.Duration.Seconds())

	if r.DecodeErrors > 0 {
		m.ErrorsTotal.WithLabelValues(prune.KindDecode.String()).Add(float64(r.DecodeErrors))
	}
	if r.ParseErrors > 0 {
		m.ErrorsTotal.WithLabelValues(prune.KindParse.String()).Add(float64(r.ParseErrors))
	}
	if r.Err != nil {
		if k, ok := r.ErrorKind(); ok {
			m.ErrorsTotal.WithLabelValues(k.String()).Inc()
		}
		return
	}

	m.ChunksTotal.WithLabelValues(DecisionKept).Add(float64(r.ChunksKept))
	m.ChunksTotal.WithLabelValues(DecisionDeleted).Add(float64(r.ChunksDeleted))
	m.BytesReclaimedTotal.Add(float64(r.BytesReclaimed))
	m.ExternalRemovedTotal.Add(float64(r.ExternalRemoved))
}
