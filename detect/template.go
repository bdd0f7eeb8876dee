package detect

import (
	"strings"

	"argus/core"
)

// templateFields are the placeholders a rule's description template may
// reference. Each expands to the value from the first matching event that
// has one.
var templateFields = []string{"source_ip", "destination_ip", "user_id", "process_name"}

// expandTemplate substitutes {field} placeholders with values drawn from the
// matching events. A placeholder with no value across all events becomes
// "unknown" so operators can tell a missing value from a template bug.
func expandTemplate(template string, events []*core.Event) string {
	if template == "" {
		return ""
	}
	out := template
	for _, field := range templateFields {
		placeholder := "{" + field + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		value := "unknown"
		for _, ev := range events {
			if v, ok := ev.Field(field); ok && v != "" {
				value = v
				break
			}
		}
		out = strings.ReplaceAll(out, placeholder, value)
	}
	return out
}
