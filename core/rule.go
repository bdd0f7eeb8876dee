package core

import (
	"fmt"
	"strings"
	"time"
)

// PredicateKind identifies one of the closed set of predicate variants a
// correlation rule may use. The set is deliberately small and typed so a
// malformed rule fails at load time instead of at evaluation time.
type PredicateKind string

const (
	// PredicateFieldEquals matches when the named field equals Value exactly.
	PredicateFieldEquals PredicateKind = "field_equals"
	// PredicateFieldContainsAny matches when the named field contains any of
	// Values as a substring.
	PredicateFieldContainsAny PredicateKind = "field_contains_any"
	// PredicateFieldGreaterThan matches when the named numeric field is
	// strictly greater than Number.
	PredicateFieldGreaterThan PredicateKind = "field_greater_than"
)

// Predicate is a typed rule condition evaluated against a single event.
type Predicate struct {
	Kind   PredicateKind `json:"kind"`
	Field  string        `json:"field"`
	Value  string        `json:"value,omitempty"`
	Values []string      `json:"values,omitempty"`
	Number float64       `json:"number,omitempty"`
}

// Matches evaluates the predicate against an event. An unknown field name is
// simply a non-match, never an error.
func (p Predicate) Matches(event *Event) bool {
	switch p.Kind {
	case PredicateFieldEquals:
		v, ok := event.Field(p.Field)
		return ok && v == p.Value
	case PredicateFieldContainsAny:
		v, ok := event.Field(p.Field)
		if !ok || v == "" {
			return false
		}
		for _, needle := range p.Values {
			if needle != "" && strings.Contains(v, needle) {
				return true
			}
		}
		return false
	case PredicateFieldGreaterThan:
		v, ok := event.NumericField(p.Field)
		return ok && v > p.Number
	default:
		return false
	}
}

// Validate checks the predicate is well-formed. Called at rule load time so
// a bad rule is a startup failure, not a silently dead rule.
func (p Predicate) Validate() error {
	if p.Field == "" {
		return fmt.Errorf("predicate: field is required")
	}
	switch p.Kind {
	case PredicateFieldEquals:
		if p.Value == "" {
			return fmt.Errorf("predicate %s: value is required", p.Kind)
		}
	case PredicateFieldContainsAny:
		if len(p.Values) == 0 {
			return fmt.Errorf("predicate %s: at least one value is required", p.Kind)
		}
	case PredicateFieldGreaterThan:
		// Any number is a valid threshold, including zero.
	default:
		return fmt.Errorf("predicate: unknown kind %q", p.Kind)
	}
	return nil
}

// CorrelationRule converts matching events inside a sliding time window into
// an alert once the match count reaches Threshold. Rules are loaded at
// startup and immutable at runtime.
type CorrelationRule struct {
	ID                  string        `json:"rule_id"`
	Name                string        `json:"name"`
	Description         string        `json:"description,omitempty"`
	Predicate           Predicate     `json:"predicate"`
	Window              time.Duration `json:"time_window"`
	Threshold           int           `json:"threshold"`
	Severity            Severity      `json:"severity"`
	Category            Category      `json:"category,omitempty"`
	Title               string        `json:"title"`
	DescriptionTemplate string        `json:"description_template,omitempty"`
	RecommendedActions  []string      `json:"recommended_actions,omitempty"`
	Enabled             bool          `json:"enabled"`
	Tags                []string      `json:"tags,omitempty"`
	CreatedAt           time.Time     `json:"created_at,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at,omitempty"`
}

// Validate checks the rule is well-formed.
func (r *CorrelationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: rule_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name is required", r.ID)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s: time window must be positive", r.ID)
	}
	if r.Threshold < 1 {
		return fmt.Errorf("rule %s: threshold must be at least 1", r.ID)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}
	if r.Category != "" && !r.Category.IsValid() {
		return fmt.Errorf("rule %s: invalid category %q", r.ID, r.Category)
	}
	if r.Title == "" {
		return fmt.Errorf("rule %s: title is required", r.ID)
	}
	if err := r.Predicate.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}
