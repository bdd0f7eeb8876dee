package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies a normalized security event.
type Category string

const (
	CategoryAuthentication      Category = "authentication"
	CategoryNetworkTraffic      Category = "network_traffic"
	CategorySystemAccess        Category = "system_access"
	CategoryFileAccess          Category = "file_access"
	CategoryProcessExecution    Category = "process_execution"
	CategoryMalwareDetection    Category = "malware_detection"
	CategoryIntrusionDetection  Category = "intrusion_detection"
	CategoryDataExfiltration    Category = "data_exfiltration"
	CategoryPolicyViolation     Category = "policy_violation"
	CategoryConfigurationChange Category = "configuration_change"
	CategoryVulnerabilityScan   Category = "vulnerability_scan"
)

var validCategories = map[Category]struct{}{
	CategoryAuthentication:      {},
	CategoryNetworkTraffic:      {},
	CategorySystemAccess:        {},
	CategoryFileAccess:          {},
	CategoryProcessExecution:    {},
	CategoryMalwareDetection:    {},
	CategoryIntrusionDetection:  {},
	CategoryDataExfiltration:    {},
	CategoryPolicyViolation:     {},
	CategoryConfigurationChange: {},
	CategoryVulnerabilityScan:   {},
}

// String returns the string representation.
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is one of the known values.
func (c Category) IsValid() bool {
	_, ok := validCategories[c]
	return ok
}

// BaseRiskScore is the risk score every event starts with before enrichment.
const BaseRiskScore = 1.0

// Event is the common schema for all normalized security events. Events are
// immutable once appended to the EventBuffer; the enrichment fields
// (Severity, RiskScore, Tags, IOCs) are mutated exactly once, synchronously,
// during normalization.
type Event struct {
	EventID         string    `json:"event_id"`
	Timestamp       time.Time `json:"timestamp"`
	SourceSystem    string    `json:"source_system"`
	SourceIP        string    `json:"source_ip"`
	DestinationIP   string    `json:"destination_ip"`
	SourcePort      int       `json:"source_port"`
	DestinationPort int       `json:"destination_port"`
	Protocol        string    `json:"protocol"`
	Category        Category  `json:"category"`
	Severity        Severity  `json:"severity"`
	EventType       string    `json:"event_type"`
	Description     string    `json:"description"`
	UserID          string    `json:"user_id,omitempty"`
	ProcessName     string    `json:"process_name,omitempty"`
	FilePath        string    `json:"file_path,omitempty"`
	CommandLine     string    `json:"command_line,omitempty"`
	IOCs            []string  `json:"indicators_of_compromise,omitempty"`
	RiskScore       float64   `json:"risk_score"`
	Tags            []string  `json:"tags,omitempty"`
}

// NewEvent creates a new Event with a generated UUID, the current time and
// the base risk score.
func NewEvent() *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Severity:  SeverityInformational,
		RiskScore: BaseRiskScore,
	}
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present.
func (e *Event) AddTag(tag string) {
	if tag == "" || e.HasTag(tag) {
		return
	}
	e.Tags = append(e.Tags, tag)
}

// AddIOC appends an indicator value if not already present.
func (e *Event) AddIOC(value string) {
	if value == "" {
		return
	}
	for _, v := range e.IOCs {
		if v == value {
			return
		}
	}
	e.IOCs = append(e.IOCs, value)
}

// Field returns the named string field of the event for predicate
// evaluation. Set-valued fields (tags, indicators_of_compromise) are joined
// so substring predicates can match individual members. Unknown names return
// found=false rather than failing.
func (e *Event) Field(name string) (string, bool) {
	switch name {
	case "event_type":
		return e.EventType, true
	case "source_ip":
		return e.SourceIP, true
	case "destination_ip":
		return e.DestinationIP, true
	case "protocol":
		return e.Protocol, true
	case "category":
		return string(e.Category), true
	case "severity":
		return string(e.Severity), true
	case "description":
		return e.Description, true
	case "user_id":
		return e.UserID, true
	case "process_name":
		return e.ProcessName, true
	case "file_path":
		return e.FilePath, true
	case "command_line":
		return e.CommandLine, true
	case "source_system":
		return e.SourceSystem, true
	case "tags":
		return strings.Join(e.Tags, ","), true
	case "indicators_of_compromise":
		return strings.Join(e.IOCs, ","), true
	default:
		return "", false
	}
}

// NumericField returns the named numeric field of the event for predicate
// evaluation.
func (e *Event) NumericField(name string) (float64, bool) {
	switch name {
	case "risk_score":
		return e.RiskScore, true
	case "source_port":
		return float64(e.SourcePort), true
	case "destination_port":
		return float64(e.DestinationPort), true
	case "severity_rank":
		return float64(e.Severity.Rank()), true
	default:
		return 0, false
	}
}
