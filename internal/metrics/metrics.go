// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the serving core.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_decision_total",
		Help: "Total rendering decisions by outcome, engine and reason",
	}, []string{"outcome", "engine", "reason"})

	discoveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediatree_discovery_duration_seconds",
		Help:    "Duration of container discovery passes",
		Buckets: prometheus.DefBuckets,
	}, []string{"container", "forced"})

	discoveryChildren = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_discovery_children_total",
		Help: "Children produced by discovery passes, by disposition",
	}, []string{"disposition"}) // added | dropped | failed

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediatree_active_sessions",
		Help: "Currently active playback sessions",
	})

	probeCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_probe_cache_total",
		Help: "Probe cache lookups by result",
	}, []string{"result"}) // hit | miss | error

	updateClock = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatree_update_clock_bumps_total",
		Help: "Committed Update Clock increments after debouncing",
	})
)

// RecordDecision records one rendering-decision outcome.
func RecordDecision(converted bool, engine, reason string) {
	outcome := "stream"
	if converted {
		outcome = "convert"
	}
	decisionTotal.WithLabelValues(outcome, normalizeLabel(engine, "none"), normalizeLabel(reason, "unknown")).Inc()
}

// ObserveDiscovery records the duration of one discovery pass.
func ObserveDiscovery(container string, forced bool, seconds float64) {
	f := "false"
	if forced {
		f = "true"
	}
	discoveryDuration.WithLabelValues(normalizeLabel(container, "unknown"), f).Observe(seconds)
}

// CountChild records the disposition of one discovered child.
func CountChild(disposition string) {
	discoveryChildren.WithLabelValues(normalizeLabel(disposition, "unknown")).Inc()
}

// SessionStarted and SessionStopped track the active session gauge.
func SessionStarted() { activeSessions.Inc() }

// SessionStopped decrements the active session gauge.
func SessionStopped() { activeSessions.Dec() }

// RecordProbeCache records one probe cache lookup result.
func RecordProbeCache(result string) {
	probeCache.WithLabelValues(normalizeLabel(result, "unknown")).Inc()
}

// RecordClockBump records one committed Update Clock increment.
func RecordClockBump() { updateClock.Inc() }

func normalizeLabel(v, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	return v
}
