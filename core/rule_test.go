package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func predicateEvent() *Event {
	ev := NewEvent()
	ev.EventType = "auth_failure"
	ev.Category = CategoryAuthentication
	ev.SourceIP = "10.0.0.5"
	ev.UserID = "alice"
	ev.CommandLine = "powershell -EncodedCommand SQBFAFgA"
	ev.RiskScore = 7.5
	ev.SourcePort = 51515
	ev.AddTag("lateral-movement")
	ev.AddIOC("203.0.113.66")
	return ev
}

func TestPredicateFieldEquals(t *testing.T) {
	ev := predicateEvent()

	tests := []struct {
		name  string
		field string
		value string
		want  bool
	}{
		{"event type match", "event_type", "auth_failure", true},
		{"event type mismatch", "event_type", "auth_success", false},
		{"source ip match", "source_ip", "10.0.0.5", true},
		{"user match", "user_id", "alice", true},
		{"unknown field is non-match", "no_such_field", "x", false},
		{"empty field mismatch", "destination_ip", "192.0.2.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Predicate{Kind: PredicateFieldEquals, Field: tt.field, Value: tt.value}
			assert.Equal(t, tt.want, p.Matches(ev))
		})
	}
}

func TestPredicateFieldContainsAny(t *testing.T) {
	ev := predicateEvent()

	p := Predicate{
		Kind:   PredicateFieldContainsAny,
		Field:  "command_line",
		Values: []string{"IEX(", "-EncodedCommand"},
	}
	assert.True(t, p.Matches(ev))

	p.Values = []string{"mimikatz"}
	assert.False(t, p.Matches(ev))

	// Tags are matchable as a joined field.
	p = Predicate{Kind: PredicateFieldContainsAny, Field: "tags", Values: []string{"lateral"}}
	assert.True(t, p.Matches(ev))
}

func TestPredicateFieldGreaterThan(t *testing.T) {
	ev := predicateEvent()

	tests := []struct {
		name   string
		field  string
		number float64
		want   bool
	}{
		{"risk above", "risk_score", 7.0, true},
		{"risk equal is not greater", "risk_score", 7.5, false},
		{"risk below", "risk_score", 8.0, false},
		{"port", "source_port", 1024, true},
		{"non numeric field", "user_id", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Predicate{Kind: PredicateFieldGreaterThan, Field: tt.field, Number: tt.number}
			assert.Equal(t, tt.want, p.Matches(ev))
		})
	}
}

func TestPredicateValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Predicate
		wantErr bool
	}{
		{"valid equals", Predicate{Kind: PredicateFieldEquals, Field: "event_type", Value: "x"}, false},
		{"equals without value", Predicate{Kind: PredicateFieldEquals, Field: "event_type"}, true},
		{"valid contains", Predicate{Kind: PredicateFieldContainsAny, Field: "command_line", Values: []string{"a"}}, false},
		{"contains without values", Predicate{Kind: PredicateFieldContainsAny, Field: "command_line"}, true},
		{"valid greater than zero", Predicate{Kind: PredicateFieldGreaterThan, Field: "risk_score", Number: 0}, false},
		{"missing field", Predicate{Kind: PredicateFieldEquals, Value: "x"}, true},
		{"unknown kind", Predicate{Kind: "regex", Field: "event_type", Value: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCorrelationRuleValidate(t *testing.T) {
	valid := func() *CorrelationRule {
		return &CorrelationRule{
			ID:        "r1",
			Name:      "rule one",
			Predicate: Predicate{Kind: PredicateFieldEquals, Field: "event_type", Value: "x"},
			Window:    5 * time.Minute,
			Threshold: 3,
			Severity:  SeverityHigh,
			Title:     "title",
			Enabled:   true,
		}
	}

	require.NoError(t, valid().Validate())

	r := valid()
	r.Threshold = 0
	assert.Error(t, r.Validate())

	r = valid()
	r.Window = 0
	assert.Error(t, r.Validate())

	r = valid()
	r.Severity = "urgent"
	assert.Error(t, r.Validate())

	r = valid()
	r.Title = ""
	assert.Error(t, r.Validate())

	r = valid()
	r.Category = "nonsense"
	assert.Error(t, r.Validate())
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityCritical, SeverityInformational))
	assert.Equal(t, SeverityMedium, MaxSeverity(SeverityLow, SeverityMedium))

	_, err := ParseSeverity("catastrophic")
	assert.Error(t, err)

	s, err := ParseSeverity("HIGH")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, s)
}
