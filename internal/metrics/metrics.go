// Package metrics holds the prometheus collectors shared by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeStatus   = "status"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeCorrupt  = "corrupt"
	OutcomeTooLarge = "too_large"
)

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epg_fetch_total",
		Help: "Source fetches by outcome.",
	}, []string{"outcome"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "epg_fetch_duration_seconds",
		Help:    "Duration of a single source fetch.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epg_cache_lookups_total",
		Help: "Cache lookups by result.",
	}, []string{"result"})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epg_cache_entries",
		Help: "Entries currently held in the response cache.",
	})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "epg_pipeline_duration_seconds",
		Help:    "Duration of a full fetch and merge run.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	MergedFragments = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "epg_merged_fragments",
		Help: "Fragments kept by the last merge.",
	}, []string{"kind"})

	DroppedFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epg_dropped_fragments_total",
		Help: "Fragments dropped as duplicates or for missing keys.",
	}, []string{"kind", "reason"})
)
