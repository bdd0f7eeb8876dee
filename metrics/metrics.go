// Package metrics tracks the engine's monotonic counters. Counters are held
// as atomics so readers never block writers, and every increment is mirrored
// to a Prometheus counter for scraping via the API's /metrics endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_events_processed_total",
		Help: "Total number of events normalized and buffered",
	})

	alertsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_alerts_generated_total",
		Help: "Total number of new alerts created by the correlation engine",
	})

	threatIntelMatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_threat_intel_matches_total",
		Help: "Total number of indicator hits during event enrichment",
	})

	correlationRulesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_correlation_rules_triggered_total",
		Help: "Total number of rule evaluations that met their threshold",
	})

	droppedOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_dropped_overflow_total",
		Help: "Total number of raw entries dropped because the ingestion queue was full",
	})

	correlationPassesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_correlation_passes_skipped_total",
		Help: "Total number of correlation passes skipped because one was already running",
	})
)

// Registry holds the engine counters consumed by the pipeline components.
type Registry struct {
	start time.Time

	eventsProcessed           atomic.Int64
	alertsGenerated           atomic.Int64
	threatIntelMatches        atomic.Int64
	correlationRulesTriggered atomic.Int64
	droppedOverflow           atomic.Int64
	correlationPassesSkipped  atomic.Int64
}

// NewRegistry creates a registry with the uptime clock started now.
func NewRegistry() *Registry {
	return &Registry{start: time.Now()}
}

// IncEventsProcessed counts one normalized, buffered event.
func (r *Registry) IncEventsProcessed() {
	r.eventsProcessed.Add(1)
	eventsProcessed.Inc()
}

// IncAlertsGenerated counts one newly created alert.
func (r *Registry) IncAlertsGenerated() {
	r.alertsGenerated.Add(1)
	alertsGenerated.Inc()
}

// IncThreatIntelMatches counts one indicator hit during enrichment.
func (r *Registry) IncThreatIntelMatches() {
	r.threatIntelMatches.Add(1)
	threatIntelMatches.Inc()
}

// IncCorrelationRulesTriggered counts one rule whose threshold was met.
func (r *Registry) IncCorrelationRulesTriggered() {
	r.correlationRulesTriggered.Add(1)
	correlationRulesTriggered.Inc()
}

// IncDroppedOverflow counts one raw entry dropped on queue overflow.
func (r *Registry) IncDroppedOverflow() {
	r.droppedOverflow.Add(1)
	droppedOverflow.Inc()
}

// IncCorrelationPassesSkipped counts one pass skipped under overlap.
func (r *Registry) IncCorrelationPassesSkipped() {
	r.correlationPassesSkipped.Add(1)
	correlationPassesSkipped.Inc()
}

// Snapshot is a point-in-time, read-only view of the counters.
type Snapshot struct {
	EventsProcessed           int64   `json:"events_processed"`
	AlertsGenerated           int64   `json:"alerts_generated"`
	ThreatIntelMatches        int64   `json:"threat_intel_matches"`
	CorrelationRulesTriggered int64   `json:"correlation_rules_triggered"`
	DroppedOverflow           int64   `json:"dropped_overflow"`
	CorrelationPassesSkipped  int64   `json:"correlation_passes_skipped"`
	UptimeSeconds             float64 `json:"uptime_seconds"`
	EventsPerSecond           float64 `json:"events_per_second"`
}

// Snapshot returns the current counter values plus the derived
// events-per-second gauge.
func (r *Registry) Snapshot() Snapshot {
	uptime := time.Since(r.start).Seconds()
	processed := r.eventsProcessed.Load()

	var eps float64
	if uptime > 0 {
		eps = float64(processed) / uptime
	}

	return Snapshot{
		EventsProcessed:           processed,
		AlertsGenerated:           r.alertsGenerated.Load(),
		ThreatIntelMatches:        r.threatIntelMatches.Load(),
		CorrelationRulesTriggered: r.correlationRulesTriggered.Load(),
		DroppedOverflow:           r.droppedOverflow.Load(),
		CorrelationPassesSkipped:  r.correlationPassesSkipped.Load(),
		UptimeSeconds:             uptime,
		EventsPerSecond:           eps,
	}
}
