package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessedTotal counts jobs driven to a terminal state, by outcome
	// and by which path applied it (worker poll vs webhook).
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "howtobuddy_jobs_processed_total",
			Help: "Total number of transcription jobs driven to a terminal state",
		},
		[]string{"status", "source"},
	)

	// ProviderPollDuration tracks how long a job spends between submission
	// and a terminal provider result.
	ProviderPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "howtobuddy_provider_poll_duration_seconds",
			Help:    "Time from provider submission to terminal provider result",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
	)

	// WebhooksTotal counts inbound provider webhooks by outcome.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "howtobuddy_webhooks_total",
			Help: "Total number of provider webhook deliveries",
		},
		[]string{"outcome"},
	)

	// SubscribersActive tracks the number of live subscriber connections.
	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "howtobuddy_subscribers_active",
			Help: "Number of currently registered subscriber connections",
		},
	)

	// BroadcastsTotal counts status events fanned out to subscribers.
	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "howtobuddy_broadcasts_total",
			Help: "Total number of status events broadcast to subscribers",
		},
	)

	// CacheHits and CacheMisses count cache lookups.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "howtobuddy_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "howtobuddy_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)
)
