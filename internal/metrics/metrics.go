package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceError   = "error"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Intercepted requests by the source that answered them
	Intercepts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_intercepts_total",
			Help: "Total number of intercepted requests",
		},
		[]string{"source"},
	)

	Installs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_installs_total",
			Help: "Total number of manifest installs",
		},
		[]string{"result"},
	)

	PrunedGenerations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_cache_pruned_generations_total",
			Help: "Total number of stale cache generations deleted",
		},
	)

	ManifestAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_cache_manifest_assets",
			Help: "Number of assets stored by the last successful install",
		},
	)

	// Network fetch latency, for manifest assets and cache misses
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offline_cache_fetch_duration_seconds",
			Help:    "Duration of network fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)
)

// RecordIntercept records which source answered an intercepted request
func RecordIntercept(source string) {
	Intercepts.WithLabelValues(source).Inc()
}

// RecordInstall records the outcome of an install
func RecordInstall(result string, assets int) {
	Installs.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		ManifestAssets.Set(float64(assets))
	}
}

// RecordPruned records deleted stale generations
func RecordPruned(count int) {
	PrunedGenerations.Add(float64(count))
}

// TimeFetch returns a timer function for measuring a network fetch
func TimeFetch(event string) func() {
	timer := prometheus.NewTimer(FetchDuration.WithLabelValues(event))
	return func() {
		timer.ObserveDuration()
	}
}
