// Package storage provides the durable persistence layer: ClickHouse for
// the event and alert streams, SQLite for detection content.
package storage

import (
	"errors"

	"argus/core"
	"argus/threat"
)

// ErrUnavailable is returned when a write is rejected because the backend
// backlog is full. Persistence is best effort, so callers log and continue.
var ErrUnavailable = errors.New("storage backend unavailable")

// EventWriter accepts normalized events for durable storage.
type EventWriter interface {
	WriteEvent(event *core.Event) error
}

// AlertWriter accepts alerts for durable storage. Every correlation pass
// rewrites the current state of an alert, so backends must tolerate repeated
// writes of the same alert ID.
type AlertWriter interface {
	WriteAlert(alert *core.Alert) error
}

// RuleStore persists detection content across restarts.
type RuleStore interface {
	SaveRules(rules []*core.CorrelationRule) error
	LoadRules() ([]*core.CorrelationRule, error)
}

// IndicatorStore persists threat indicators across restarts.
type IndicatorStore interface {
	SaveIndicators(indicators []*threat.Indicator) error
	LoadIndicators() ([]*threat.Indicator, error)
}

// NopEventWriter discards events. Used when ClickHouse is disabled.
type NopEventWriter struct{}

func (NopEventWriter) WriteEvent(*core.Event) error { return nil }

// NopAlertWriter discards alerts. Used when ClickHouse is disabled.
type NopAlertWriter struct{}

func (NopAlertWriter) WriteAlert(*core.Alert) error { return nil }
