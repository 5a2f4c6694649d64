package correlate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"argus/core"
)

// ruleFile is the on-disk YAML shape of a rule set. Durations and
// severities arrive as strings and are converted during load.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID           string                   `yaml:"id"`
	Name         string                   `yaml:"name"`
	Description  string                   `yaml:"description"`
	Type         string                   `yaml:"type"`
	EventTypes   []string                 `yaml:"event_types"`
	Sources      []string                 `yaml:"sources"`
	RequiredTags []string                 `yaml:"required_tags"`
	Conditions   []conditionSpec          `yaml:"conditions"`
	Sequence     []map[string]interface{} `yaml:"sequence"`
	GroupBy      string                   `yaml:"group_by"`
	Window       string                   `yaml:"window"`
	Threshold    int                      `yaml:"threshold"`
	Severity     string                   `yaml:"severity"`
	Enabled      *bool                    `yaml:"enabled"`
	Tags         []string                 `yaml:"tags"`
}

type conditionSpec struct {
	Field    string      `yaml:"field"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
}

// LoadRulesFile reads a YAML rule set and registers every rule with the
// engine. The first invalid rule aborts the load.
func (e *Engine) LoadRulesFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	loaded := 0
	for i, spec := range file.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return loaded, fmt.Errorf("rules file %s: rule %d: %w", path, i, err)
		}
		if err := e.AddRule(rule); err != nil {
			return loaded, fmt.Errorf("rules file %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

func (s ruleSpec) toRule() (*core.CorrelationRule, error) {
	window, err := time.ParseDuration(s.Window)
	if err != nil {
		return nil, fmt.Errorf("invalid window %q: %w", s.Window, err)
	}

	conditions := make([]core.Condition, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		op, err := core.ParseOperator(c.Operator)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, core.Condition{Field: c.Field, Operator: op, Value: c.Value})
	}

	eventTypes := make([]core.EventType, 0, len(s.EventTypes))
	for _, t := range s.EventTypes {
		eventTypes = append(eventTypes, core.ParseEventType(t))
	}

	sequence := make([]core.SequencePattern, 0, len(s.Sequence))
	for _, p := range s.Sequence {
		sequence = append(sequence, core.SequencePattern(p))
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	return &core.CorrelationRule{
		ID:           s.ID,
		Name:         s.Name,
		Description:  s.Description,
		Type:         core.CorrelationType(s.Type),
		EventTypes:   eventTypes,
		Sources:      s.Sources,
		RequiredTags: s.RequiredTags,
		Conditions:   conditions,
		Sequence:     sequence,
		GroupBy:      s.GroupBy,
		Window:       window,
		Threshold:    s.Threshold,
		Severity:     core.ParseSeverity(s.Severity),
		Enabled:      enabled,
		Tags:         s.Tags,
	}, nil
}
