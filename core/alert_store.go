package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlertNotFound is returned by lifecycle operations on unknown alert IDs.
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore holds alert records and owns all mutation after creation.
// A single lock is sufficient: alert volume is orders of magnitude lower
// than event volume.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	byRule map[string][]string // rule ID -> alert IDs in creation order
	logger *zap.SugaredLogger
	nowFn  func() time.Time
}

// NewAlertStore creates an empty alert store.
func NewAlertStore(logger *zap.SugaredLogger) *AlertStore {
	return &AlertStore{
		alerts: make(map[string]*Alert),
		byRule: make(map[string][]string),
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrSuppress inserts the alert unless an open alert for the same rule
// should absorb it. An existing NEW/INVESTIGATING alert suppresses the new
// one when its event set overlaps the incoming set, or when it was updated
// within the cooldown window - a persistently-true rule condition then
// refreshes one alert per condition instead of flooding a duplicate every
// correlation pass. On suppression the existing alert's event IDs, assets
// and IOCs are extended and its UpdatedTime refreshed.
//
// Returns the stored alert (a copy) and whether a new record was created.
func (s *AlertStore) CreateOrSuppress(alert *Alert, cooldown time.Duration) (*Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()

	if existing := s.openAlertForRuleLocked(alert.RuleID); existing != nil {
		overlap := eventOverlap(existing.SourceEventIDs, alert.SourceEventIDs)
		withinCooldown := cooldown > 0 && now.Sub(existing.UpdatedTime) <= cooldown
		if overlap > 0 || withinCooldown {
			added := existing.MergeEventIDs(alert.SourceEventIDs)
			existing.AffectedAssets = mergeStringSet(existing.AffectedAssets, alert.AffectedAssets)
			existing.IOCs = mergeStringSet(existing.IOCs, alert.IOCs)
			existing.UpdatedTime = now
			if s.logger != nil {
				s.logger.Debugw("Suppressed duplicate alert",
					"rule_id", alert.RuleID,
					"alert_id", existing.AlertID,
					"events_added", added)
			}
			return existing.Clone(), false
		}
	}

	if alert.Status == "" {
		alert.Status = AlertStatusNew
	}
	if alert.CreatedTime.IsZero() {
		alert.CreatedTime = now
	}
	alert.UpdatedTime = now

	stored := alert.Clone()
	s.alerts[stored.AlertID] = stored
	s.byRule[stored.RuleID] = append(s.byRule[stored.RuleID], stored.AlertID)
	return stored.Clone(), true
}

// openAlertForRuleLocked returns the most recent open alert for the rule.
func (s *AlertStore) openAlertForRuleLocked(ruleID string) *Alert {
	ids := s.byRule[ruleID]
	for i := len(ids) - 1; i >= 0; i-- {
		if a, ok := s.alerts[ids[i]]; ok && a.Status.IsOpen() {
			return a
		}
	}
	return nil
}

func eventOverlap(existing, incoming []string) int {
	if len(existing) == 0 || len(incoming) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	overlap := 0
	for _, id := range incoming {
		if _, ok := seen[id]; ok {
			overlap++
		}
	}
	return overlap
}

// Get returns a copy of the alert with the given ID.
func (s *AlertStore) Get(id string) (*Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Count returns the total number of stored alerts.
func (s *AlertStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// ActiveAlerts returns copies of all NEW/INVESTIGATING alerts ordered by
// severity rank ascending (critical first), then creation time ascending.
func (s *AlertStore) ActiveAlerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if a.Status.IsOpen() {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedTime.Before(out[j].CreatedTime)
	})
	return out
}

// Acknowledge moves a NEW alert to INVESTIGATING, optionally assigning an
// analyst.
func (s *AlertStore) Acknowledge(id, analyst string) error {
	return s.transition(id, AlertStatusInvestigating, func(a *Alert) {
		if analyst != "" {
			a.AssignedAnalyst = analyst
		}
	})
}

// Confirm moves an INVESTIGATING alert to CONFIRMED.
func (s *AlertStore) Confirm(id string) error {
	return s.transition(id, AlertStatusConfirmed, nil)
}

// MarkFalsePositive moves an INVESTIGATING alert to the terminal
// FALSE_POSITIVE state with optional resolution notes.
func (s *AlertStore) MarkFalsePositive(id, notes string) error {
	return s.transition(id, AlertStatusFalsePositive, func(a *Alert) {
		if notes != "" {
			a.ResolutionNotes = notes
		}
	})
}

// Resolve moves a CONFIRMED alert to the terminal RESOLVED state with
// optional resolution notes.
func (s *AlertStore) Resolve(id, notes string) error {
	return s.transition(id, AlertStatusResolved, func(a *Alert) {
		if notes != "" {
			a.ResolutionNotes = notes
		}
	})
}

// Suppress moves a NEW or INVESTIGATING alert to the terminal SUPPRESSED
// state.
func (s *AlertStore) Suppress(id string) error {
	return s.transition(id, AlertStatusSuppressed, nil)
}

// transition applies a lifecycle transition plus an optional mutation under
// the store lock. On any error the alert is left unchanged.
func (s *AlertStore) transition(id string, next AlertStatus, mutate func(*Alert)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	if err := a.TransitionTo(next); err != nil {
		return err
	}
	if mutate != nil {
		mutate(a)
	}
	a.UpdatedTime = s.nowFn()
	return nil
}
