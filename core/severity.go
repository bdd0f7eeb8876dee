package core

import (
	"fmt"
	"strings"
)

// Severity represents the severity of an event or alert.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
)

// severityRanks orders severities for comparison and sorting. Lower rank is
// more severe, so critical alerts sort first.
var severityRanks = map[Severity]int{
	SeverityCritical:      1,
	SeverityHigh:          2,
	SeverityMedium:        3,
	SeverityLow:           4,
	SeverityInformational: 5,
}

// String returns the string representation.
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known values.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank returns the numeric rank of the severity (1 = critical, 5 =
// informational). Unknown severities rank below informational.
func (s Severity) Rank() int {
	if rank, ok := severityRanks[s]; ok {
		return rank
	}
	return len(severityRanks) + 1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() <= other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// ParseSeverity converts a string to a Severity, rejecting unknown values.
// Matching is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(s))
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}
