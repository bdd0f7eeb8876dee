package threat

import (
	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// TagThreatIntelMatch is added to every event that hits at least one
// indicator.
const TagThreatIntelMatch = "threat_intel_match"

// Enricher augments events with threat intelligence from the indicator
// store. Enrichment happens exactly once per event, synchronously, before
// the event enters the buffer.
type Enricher struct {
	store   *Store
	metrics *metrics.Registry
	logger  *zap.SugaredLogger
}

// NewEnricher creates an enricher backed by the given store.
func NewEnricher(store *Store, registry *metrics.Registry, logger *zap.SugaredLogger) *Enricher {
	return &Enricher{
		store:   store,
		metrics: registry,
		logger:  logger,
	}
}

// riskDelta is the severity-tiered risk score increment per indicator hit.
func riskDelta(severity core.Severity) float64 {
	switch severity {
	case core.SeverityCritical:
		return 8
	case core.SeverityHigh:
		return 6
	default:
		return 2
	}
}

// Enrich looks up the event's source IP, destination IP and every IOC
// already on the event. Each hit raises the event severity to at least the
// indicator's severity (never downgrading), adds the tiered risk delta and
// unions the indicator's tags plus the threat_intel_match tag into the
// event. Returns the number of indicator hits.
func (en *Enricher) Enrich(event *core.Event) int {
	if event == nil {
		return 0
	}

	candidates := make([]string, 0, 2+len(event.IOCs))
	seen := make(map[string]struct{}, 2+len(event.IOCs))
	for _, v := range append([]string{event.SourceIP, event.DestinationIP}, event.IOCs...) {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		candidates = append(candidates, v)
	}

	hits := 0
	for _, value := range candidates {
		ind, found := en.store.Lookup(value)
		if !found {
			continue
		}
		hits++

		if ind.Severity.AtLeast(event.Severity) {
			event.Severity = ind.Severity
		}
		event.RiskScore += riskDelta(ind.Severity)
		for _, tag := range ind.Tags {
			event.AddTag(tag)
		}
		event.AddTag(TagThreatIntelMatch)

		if en.metrics != nil {
			en.metrics.IncThreatIntelMatches()
		}
		if en.logger != nil {
			en.logger.Debugw("Threat indicator hit",
				"event_id", event.EventID,
				"indicator", ind.Value,
				"threat_type", ind.Type,
				"severity", ind.Severity)
		}
	}
	return hits
}
