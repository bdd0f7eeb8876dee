package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRules(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - rule_id: brute-force
    name: Authentication brute force
    predicate:
      kind: field_equals
      field: event_type
      value: auth_failure
    time_window_seconds: 300
    threshold: 10
    severity: high
    category: authentication
    title: Possible brute force
    description_template: "failures from {source_ip}"
    recommended_actions:
      - lock account
    tags:
      - credential-access
  - rule_id: disabled-rule
    name: Disabled
    predicate:
      kind: field_greater_than
      field: risk_score
      number: 8
    time_window_seconds: 60
    threshold: 1
    severity: low
    title: Disabled rule
    enabled: false
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	first := rules[0]
	assert.Equal(t, "brute-force", first.ID)
	assert.Equal(t, core.PredicateFieldEquals, first.Predicate.Kind)
	assert.Equal(t, 5*time.Minute, first.Window)
	assert.Equal(t, 10, first.Threshold)
	assert.Equal(t, core.SeverityHigh, first.Severity)
	assert.True(t, first.Enabled, "enabled defaults to true")

	assert.False(t, rules[1].Enabled)
}

func TestLoadRulesRejectsBadContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "rules: ["},
		{"missing rule_id", `
rules:
  - name: x
    predicate: {kind: field_equals, field: event_type, value: a}
    time_window_seconds: 60
    threshold: 1
    severity: low
    title: x
`},
		{"zero window", `
rules:
  - rule_id: r
    name: x
    predicate: {kind: field_equals, field: event_type, value: a}
    time_window_seconds: 0
    threshold: 1
    severity: low
    title: x
`},
		{"zero threshold", `
rules:
  - rule_id: r
    name: x
    predicate: {kind: field_equals, field: event_type, value: a}
    time_window_seconds: 60
    threshold: 0
    severity: low
    title: x
`},
		{"unknown predicate kind", `
rules:
  - rule_id: r
    name: x
    predicate: {kind: regex, field: event_type, value: a}
    time_window_seconds: 60
    threshold: 1
    severity: low
    title: x
`},
		{"bad severity", `
rules:
  - rule_id: r
    name: x
    predicate: {kind: field_equals, field: event_type, value: a}
    time_window_seconds: 60
    threshold: 1
    severity: mega
    title: x
`},
		{"duplicate rule id", `
rules:
  - rule_id: r
    name: x
    predicate: {kind: field_equals, field: event_type, value: a}
    time_window_seconds: 60
    threshold: 1
    severity: low
    title: x
  - rule_id: r
    name: y
    predicate: {kind: field_equals, field: event_type, value: b}
    time_window_seconds: 60
    threshold: 1
    severity: low
    title: y
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(writeRulesFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
