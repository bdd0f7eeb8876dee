package detect

import (
	"fmt"
	"os"
	"time"

	"argus/core"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of a rule set.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID                  string        `yaml:"rule_id" validate:"required"`
	Name                string        `yaml:"name" validate:"required"`
	Description         string        `yaml:"description"`
	Predicate           predicateSpec `yaml:"predicate" validate:"required"`
	TimeWindowSeconds   int           `yaml:"time_window_seconds" validate:"gt=0"`
	Threshold           int           `yaml:"threshold" validate:"gte=1"`
	Severity            string        `yaml:"severity" validate:"required"`
	Category            string        `yaml:"category"`
	Title               string        `yaml:"title" validate:"required"`
	DescriptionTemplate string        `yaml:"description_template"`
	RecommendedActions  []string      `yaml:"recommended_actions"`
	Enabled             *bool         `yaml:"enabled"`
	Tags                []string      `yaml:"tags"`
}

type predicateSpec struct {
	Kind   string   `yaml:"kind" validate:"required"`
	Field  string   `yaml:"field" validate:"required"`
	Value  string   `yaml:"value"`
	Values []string `yaml:"values"`
	Number float64  `yaml:"number"`
}

// LoadRules reads correlation rules from a YAML file. Any malformed rule or
// duplicate rule ID fails the whole load: detection content errors are
// startup failures, not silently dead rules.
func LoadRules(path string) ([]*core.CorrelationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(file.Rules))
	rules := make([]*core.CorrelationRule, 0, len(file.Rules))

	for i, spec := range file.Rules {
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("rules file %s: rule %d: %w", path, i, err)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("rules file %s: duplicate rule_id %q", path, spec.ID)
		}
		seen[spec.ID] = struct{}{}

		rule := &core.CorrelationRule{
			ID:          spec.ID,
			Name:        spec.Name,
			Description: spec.Description,
			Predicate: core.Predicate{
				Kind:   core.PredicateKind(spec.Predicate.Kind),
				Field:  spec.Predicate.Field,
				Value:  spec.Predicate.Value,
				Values: spec.Predicate.Values,
				Number: spec.Predicate.Number,
			},
			Window:              time.Duration(spec.TimeWindowSeconds) * time.Second,
			Threshold:           spec.Threshold,
			Severity:            core.Severity(spec.Severity),
			Category:            core.Category(spec.Category),
			Title:               spec.Title,
			DescriptionTemplate: spec.DescriptionTemplate,
			RecommendedActions:  spec.RecommendedActions,
			Enabled:             spec.Enabled == nil || *spec.Enabled,
			Tags:                spec.Tags,
			CreatedAt:           time.Now().UTC(),
			UpdatedAt:           time.Now().UTC(),
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}
