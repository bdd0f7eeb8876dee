// Package threat holds the threat-indicator store and the event enricher
// that raises event severity, risk score and tags on indicator hits.
package threat

import (
	"time"

	"argus/core"
)

// Indicator is a single indicator of compromise with its TTL window. An
// indicator is visible to lookups only while now < FirstSeen+TTL.
type Indicator struct {
	Value      string        `json:"value"`
	Type       string        `json:"threat_type"`
	Confidence float64       `json:"confidence"`
	Severity   core.Severity `json:"severity"`
	Source     string        `json:"source"`
	FirstSeen  time.Time     `json:"first_seen"`
	TTL        time.Duration `json:"ttl"`
	Tags       []string      `json:"tags,omitempty"`
}

// Expired reports whether the indicator's TTL window has passed at now.
func (i *Indicator) Expired(now time.Time) bool {
	return !now.Before(i.FirstSeen.Add(i.TTL))
}
