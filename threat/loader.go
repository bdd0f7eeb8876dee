package threat

import (
	"fmt"
	"os"
	"time"

	"argus/core"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// indicatorSpec is the YAML shape of a single indicator definition.
type indicatorSpec struct {
	Value      string   `yaml:"value" validate:"required"`
	ThreatType string   `yaml:"threat_type" validate:"required"`
	Confidence float64  `yaml:"confidence" validate:"gte=0,lte=1"`
	Severity   string   `yaml:"severity" validate:"required"`
	Source     string   `yaml:"source"`
	FirstSeen  string   `yaml:"first_seen"`
	TTLSeconds int64    `yaml:"ttl_seconds" validate:"gt=0"`
	Tags       []string `yaml:"tags"`
}

type indicatorFile struct {
	Indicators []indicatorSpec `yaml:"indicators"`
}

// LoadIndicators reads indicator definitions from a YAML file. A malformed
// definition is a configuration error: the caller treats it as fatal at
// startup.
func LoadIndicators(path string) ([]*Indicator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicators file: %w", err)
	}

	var file indicatorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse indicators file %s: %w", path, err)
	}

	validate := validator.New()
	indicators := make([]*Indicator, 0, len(file.Indicators))
	seen := make(map[string]int, len(file.Indicators))

	for i, spec := range file.Indicators {
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("indicator %d (%s): %w", i, spec.Value, err)
		}

		severity, err := core.ParseSeverity(spec.Severity)
		if err != nil {
			return nil, fmt.Errorf("indicator %d (%s): %w", i, spec.Value, err)
		}

		firstSeen := time.Now().UTC()
		if spec.FirstSeen != "" {
			firstSeen, err = time.Parse(time.RFC3339, spec.FirstSeen)
			if err != nil {
				return nil, fmt.Errorf("indicator %d (%s): invalid first_seen: %w", i, spec.Value, err)
			}
		}

		// Duplicate values later in the file win: loads are idempotent by
		// indicator value.
		ind := &Indicator{
			Value:      spec.Value,
			Type:       spec.ThreatType,
			Confidence: spec.Confidence,
			Severity:   severity,
			Source:     spec.Source,
			FirstSeen:  firstSeen,
			TTL:        time.Duration(spec.TTLSeconds) * time.Second,
			Tags:       spec.Tags,
		}
		if prev, dup := seen[spec.Value]; dup {
			indicators[prev] = ind
			continue
		}
		seen[spec.Value] = len(indicators)
		indicators = append(indicators, ind)
	}

	return indicators, nil
}
