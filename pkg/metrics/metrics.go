// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics holds the Prometheus instrumentation for the
// mediation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	AdapterAttempts *prometheus.CounterVec
	AuctionDuration prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Telemetry metrics
	TelemetryBatchesSent   prometheus.Counter
	TelemetryBatchesFailed prometheus.Counter
	TelemetryEventsDropped prometheus.Counter

	// Presentation metrics
	ShowsTotal    *prometheus.CounterVec
	ShowsRejected prometheus.Counter
}

// New creates a metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AuctionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "auctions_total",
			Help:      "Total ad requests by final outcome",
		}, []string{"outcome"}),
		AdapterAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "adapter_attempts_total",
			Help:      "Per-adapter load attempts by outcome",
		}, []string{"adapter", "outcome"}),
		AuctionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediation",
			Name:      "auction_duration_seconds",
			Help:      "Time to complete an ad request",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "adcache_hits_total",
			Help:      "Cache reads that returned a fresh ad",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "adcache_misses_total",
			Help:      "Cache reads that found nothing or an expired ad",
		}),
		TelemetryBatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "telemetry_batches_sent_total",
			Help:      "Telemetry batches flushed successfully",
		}),
		TelemetryBatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "telemetry_batches_failed_total",
			Help:      "Telemetry flush attempts that failed",
		}),
		TelemetryEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "telemetry_events_dropped_total",
			Help:      "Events dropped after exhausting flush retries",
		}),
		ShowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "shows_total",
			Help:      "Presentation attempts by outcome",
		}, []string{"outcome"}),
		ShowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediation",
			Name:      "shows_rejected_total",
			Help:      "Show calls rejected because a presenter was busy",
		}),
	}

	reg.MustRegister(
		m.AuctionsTotal,
		m.AdapterAttempts,
		m.AuctionDuration,
		m.CacheHits,
		m.CacheMisses,
		m.TelemetryBatchesSent,
		m.TelemetryBatchesFailed,
		m.TelemetryEventsDropped,
		m.ShowsTotal,
		m.ShowsRejected,
	)
	return m
}

// Registry returns the underlying registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler serving the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
