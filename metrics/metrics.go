// Package metrics exposes Prometheus instrumentation for the correlation core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_normalized_total",
			Help: "Total number of raw events successfully normalized",
		},
		[]string{"source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_rejected_total",
			Help: "Total number of raw events rejected by the normalizer",
		},
		[]string{"source"},
	)

	EventsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_events_filtered_total",
			Help: "Total number of normalized events dropped by filters",
		},
	)

	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_enrichment_failures_total",
			Help: "Total number of enricher failures (non-fatal)",
		},
		[]string{"enricher"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_incidents_created_total",
			Help: "Total number of incidents emitted by the correlation engine",
		},
		[]string{"rule", "severity"},
	)

	ContextsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_correlation_contexts_active",
			Help: "Number of live correlation contexts",
		},
	)

	ContextsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_correlation_contexts_expired_total",
			Help: "Total number of contexts reclaimed without producing an incident",
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_generated_total",
			Help: "Total number of alerts emitted by the pattern detector",
		},
		[]string{"rule", "severity"},
	)

	AuthLinesParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_auth_lines_parsed_total",
			Help: "Total number of auth log lines parsed, by matched kind",
		},
		[]string{"kind"},
	)

	AuthLinesIgnored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_auth_lines_ignored_total",
			Help: "Total number of auth log lines that matched no pattern",
		},
	)

	CounterPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_counter_persist_failures_total",
			Help: "Total number of detector counter persistence failures",
		},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to correlate one event",
			Buckets: prometheus.DefBuckets,
		},
	)
)
