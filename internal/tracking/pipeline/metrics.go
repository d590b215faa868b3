package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the pipeline. Labels: iteration (iteration name),
// stage (Stage.String()).
var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tripletfinder",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of one pipeline stage",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	}, []string{"iteration", "stage"})

	doubletsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripletfinder",
		Subsystem: "pipeline",
		Name:      "doublets_total",
		Help:      "Doublets kept after compaction",
	}, []string{"iteration"})

	tripletsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripletfinder",
		Subsystem: "pipeline",
		Name:      "triplets_total",
		Help:      "Triplet candidates fitted",
	}, []string{"iteration"})

	rejectedTripletsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripletfinder",
		Subsystem: "pipeline",
		Name:      "rejected_triplets_total",
		Help:      "Triplet candidates flagged invalid by the final fit",
	}, []string{"iteration"})

	nonPSDTripletsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripletfinder",
		Subsystem: "pipeline",
		Name:      "non_psd_triplets_total",
		Help:      "Fitted triplets whose covariance is not positive semi-definite",
	}, []string{"iteration"})

	invalidHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripletfinder",
		Subsystem: "pipeline",
		Name:      "invalid_hits_total",
		Help:      "Hits dropped by the validity check",
	})
)

func observeStage(iteration string, st Stage, seconds float64) {
	stageDuration.WithLabelValues(iteration, st.String()).Observe(seconds)
}

func recordCounts(iteration string, r *Result) {
	doubletsTotal.WithLabelValues(iteration).Add(float64(r.NDoublets))
	tripletsTotal.WithLabelValues(iteration).Add(float64(r.NTriplets))
	rejectedTripletsTotal.WithLabelValues(iteration).Add(float64(r.NTriplets - r.NValid))
	nonPSDTripletsTotal.WithLabelValues(iteration).Add(float64(r.NNonPSD))
}

// RecordInvalidHits adds the number of hits a HitSet rejected.
func RecordInvalidHits(n int) {
	if n > 0 {
		opsf("dropped %d invalid hits", n)
		invalidHitsTotal.Add(float64(n))
	}
}
