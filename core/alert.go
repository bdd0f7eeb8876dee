package core

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "NEW"
	AlertStatusInvestigating AlertStatus = "INVESTIGATING"
	AlertStatusConfirmed     AlertStatus = "CONFIRMED"
	AlertStatusFalsePositive AlertStatus = "FALSE_POSITIVE"
	AlertStatusResolved      AlertStatus = "RESOLVED"
	AlertStatusSuppressed    AlertStatus = "SUPPRESSED"
)

// String returns the string representation.
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known values.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusInvestigating, AlertStatusConfirmed,
		AlertStatusFalsePositive, AlertStatusResolved, AlertStatusSuppressed:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the alert still needs analyst attention.
func (s AlertStatus) IsOpen() bool {
	return s == AlertStatusNew || s == AlertStatusInvestigating
}

// Alert is produced by the correlation engine when a rule's threshold is met
// and is subsequently owned and mutated only through the AlertStore.
type Alert struct {
	AlertID            string      `json:"alert_id"`
	RuleID             string      `json:"rule_id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Severity           Severity    `json:"severity"`
	Category           Category    `json:"category"`
	Status             AlertStatus `json:"status"`
	CreatedTime        time.Time   `json:"created_time"`
	UpdatedTime        time.Time   `json:"updated_time"`
	SourceEventIDs     []string    `json:"source_event_ids"`
	AffectedAssets     []string    `json:"affected_assets,omitempty"`
	IOCs               []string    `json:"indicators_of_compromise,omitempty"`
	RecommendedActions []string    `json:"recommended_actions,omitempty"`
	AssignedAnalyst    string      `json:"assigned_analyst,omitempty"`
	ResolutionNotes    string      `json:"resolution_notes,omitempty"`
}

// NewAlert creates an alert in the NEW state with a generated UUID.
func NewAlert(ruleID string) *Alert {
	now := time.Now().UTC()
	return &Alert{
		AlertID:     uuid.New().String(),
		RuleID:      ruleID,
		Status:      AlertStatusNew,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

// MergeEventIDs appends the given event IDs, preserving order and skipping
// ones already present. Returns the number of IDs added.
func (a *Alert) MergeEventIDs(ids []string) int {
	seen := make(map[string]struct{}, len(a.SourceEventIDs))
	for _, id := range a.SourceEventIDs {
		seen[id] = struct{}{}
	}
	added := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		a.SourceEventIDs = append(a.SourceEventIDs, id)
		added++
	}
	return added
}

// Clone returns a deep copy so callers outside the store cannot mutate the
// stored alert.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.SourceEventIDs = append([]string(nil), a.SourceEventIDs...)
	cp.AffectedAssets = append([]string(nil), a.AffectedAssets...)
	cp.IOCs = append([]string(nil), a.IOCs...)
	cp.RecommendedActions = append([]string(nil), a.RecommendedActions...)
	return &cp
}

func mergeStringSet(dst []string, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
