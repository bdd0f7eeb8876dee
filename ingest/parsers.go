package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"argus/core"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFieldLength caps free-form string fields so a hostile producer cannot
// balloon memory through a single entry.
const maxFieldLength = 50000

// Parser converts a raw entry into a normalized event. A parse failure is
// isolated by the worker: the entry is logged and dropped, the pipeline
// continues.
type Parser interface {
	Name() string
	Parse(entry *RawEntry) (*core.Event, error)
}

// ParserRegistry maps parser hints to parsers.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewParserRegistry creates a registry with the built-in JSON and msgpack
// parsers registered.
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]Parser)}
	r.Register(&JSONParser{})
	r.Register(&MsgpackParser{})
	return r
}

// Register adds a parser under its name, replacing any previous one.
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Name()] = p
}

// Get returns the parser for the given hint. An empty hint selects JSON.
func (r *ParserRegistry) Get(hint string) (Parser, bool) {
	if hint == "" {
		hint = "json"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[hint]
	return p, ok
}

// JSONParser decodes a raw entry whose RawText is a JSON object of event
// fields.
type JSONParser struct{}

// Name returns the parser hint this parser serves.
func (p *JSONParser) Name() string {
	return "json"
}

// Parse decodes the entry's JSON payload into a normalized event.
func (p *JSONParser) Parse(entry *RawEntry) (*core.Event, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(entry.RawText), &fields); err != nil {
		return nil, fmt.Errorf("parse json entry: %w", err)
	}
	return eventFromFields(entry, fields)
}

// MsgpackParser decodes a raw entry whose RawText is a MessagePack-encoded
// map of event fields.
type MsgpackParser struct{}

// Name returns the parser hint this parser serves.
func (p *MsgpackParser) Name() string {
	return "msgpack"
}

// Parse decodes the entry's msgpack payload into a normalized event.
func (p *MsgpackParser) Parse(entry *RawEntry) (*core.Event, error) {
	var fields map[string]interface{}
	if err := msgpack.Unmarshal([]byte(entry.RawText), &fields); err != nil {
		return nil, fmt.Errorf("parse msgpack entry: %w", err)
	}
	return eventFromFields(entry, fields)
}

// eventFromFields builds a normalized event from a decoded field map. The
// category hint on the entry is the fallback when the payload names none.
func eventFromFields(entry *RawEntry, fields map[string]interface{}) (*core.Event, error) {
	event := core.NewEvent()
	event.SourceSystem = entry.SourceSystem

	event.EventType = stringField(fields, "event_type")
	if event.EventType == "" {
		return nil, fmt.Errorf("entry is missing event_type")
	}

	category := core.Category(stringField(fields, "category"))
	if category == "" {
		category = entry.CategoryHint
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("invalid category %q", category)
	}
	event.Category = category

	if raw := stringField(fields, "severity"); raw != "" {
		severity, err := core.ParseSeverity(raw)
		if err != nil {
			return nil, err
		}
		event.Severity = severity
	}

	if raw := stringField(fields, "timestamp"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp: %w", err)
		}
		event.Timestamp = ts.UTC()
	} else if !entry.ArrivalTime.IsZero() {
		event.Timestamp = entry.ArrivalTime.UTC()
	}

	event.SourceIP = stringField(fields, "source_ip")
	event.DestinationIP = stringField(fields, "destination_ip")
	event.SourcePort = intField(fields, "source_port")
	event.DestinationPort = intField(fields, "destination_port")
	event.Protocol = stringField(fields, "protocol")
	event.Description = clampString(stringField(fields, "description"))
	event.UserID = stringField(fields, "user_id")
	event.ProcessName = stringField(fields, "process_name")
	event.FilePath = stringField(fields, "file_path")
	event.CommandLine = clampString(stringField(fields, "command_line"))

	for _, ioc := range stringSliceField(fields, "indicators_of_compromise") {
		event.AddIOC(ioc)
	}
	for _, tag := range stringSliceField(fields, "tags") {
		event.AddTag(tag)
	}

	return event, nil
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func intField(fields map[string]interface{}, key string) int {
	switch v := fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceField(fields map[string]interface{}, key string) []string {
	raw, ok := fields[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampString(s string) string {
	if len(s) > maxFieldLength {
		return s[:maxFieldLength]
	}
	return s
}
