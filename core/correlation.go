package core

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CorrelationType defines the matching semantics of a correlation rule.
type CorrelationType string

const (
	CorrelationTypeSequence    CorrelationType = "sequence"
	CorrelationTypeFrequency   CorrelationType = "frequency"
	CorrelationTypeStatistical CorrelationType = "statistical"
	CorrelationTypeBehavioral  CorrelationType = "behavioral"
	CorrelationTypeGeolocation CorrelationType = "geolocation"
	CorrelationTypeTimeBased   CorrelationType = "time_based"
)

// IsValid reports whether the correlation type is a known one.
func (t CorrelationType) IsValid() bool {
	switch t {
	case CorrelationTypeSequence, CorrelationTypeFrequency, CorrelationTypeStatistical,
		CorrelationTypeBehavioral, CorrelationTypeGeolocation, CorrelationTypeTimeBased:
		return true
	default:
		return false
	}
}

// Operator is the closed set of condition operators a rule may use.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpInList      Operator = "in_list"
	OpNotInList   Operator = "not_in_list"
	OpIsNull      Operator = "is_null"
)

// ParseOperator resolves an operator name. Unknown operators are rejected
// here, at rule-load time, rather than silently evaluating to false later.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpRegex, OpGreaterThan,
		OpLessThan, OpInList, OpNotInList, OpIsNull:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
}

// Condition is one field-level predicate of a correlation rule, applied to
// a value resolved via a dotted field path.
type Condition struct {
	Field    string      `yaml:"field" json:"field" validate:"required"`
	Operator Operator    `yaml:"operator" json:"operator" validate:"required"`
	Value    interface{} `yaml:"value" json:"value"`
}

// SequencePattern is one step of an ordered sequence rule: field path to
// expected value, all of which must match exactly.
type SequencePattern map[string]interface{}

// CorrelationRule describes one registered correlation rule. Rules are
// loaded at configuration time and may be added or removed at runtime; the
// engine serializes mutation against matching.
type CorrelationRule struct {
	ID           string            `yaml:"id" json:"id" validate:"required"`
	Name         string            `yaml:"name" json:"name" validate:"required"`
	Description  string            `yaml:"description" json:"description"`
	Type         CorrelationType   `yaml:"type" json:"type" validate:"required"`
	EventTypes   []EventType       `yaml:"event_types" json:"event_types,omitempty"`
	Sources      []string          `yaml:"sources" json:"sources,omitempty"`
	RequiredTags []string          `yaml:"required_tags" json:"required_tags,omitempty"`
	Conditions   []Condition       `yaml:"conditions" json:"conditions,omitempty"`
	Sequence     []SequencePattern `yaml:"sequence" json:"sequence,omitempty"`
	GroupBy      string            `yaml:"group_by" json:"group_by,omitempty"`
	Window       time.Duration     `yaml:"window" json:"window" validate:"gt=0"`
	Threshold    int               `yaml:"threshold" json:"threshold" validate:"gte=1"`
	Severity     Severity          `yaml:"severity" json:"severity"`
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Tags         []string          `yaml:"tags" json:"tags,omitempty"`
}

// Validate checks rule invariants that the struct tags cannot express:
// known correlation type, known operators, compilable regex values and a
// non-empty pattern list for sequence rules.
func (r *CorrelationRule) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("rule %s: unknown correlation type %q", r.ID, r.Type)
	}
	for i, cond := range r.Conditions {
		if _, err := ParseOperator(string(cond.Operator)); err != nil {
			return fmt.Errorf("rule %s: condition %d: %w", r.ID, i, err)
		}
		if cond.Operator == OpRegex {
			pattern, ok := cond.Value.(string)
			if !ok {
				return fmt.Errorf("rule %s: condition %d: regex value must be a string", r.ID, i)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("rule %s: condition %d: invalid regex: %w", r.ID, i, err)
			}
		}
	}
	if r.Type == CorrelationTypeSequence && len(r.Sequence) == 0 {
		return fmt.Errorf("rule %s: sequence rule requires at least one pattern", r.ID)
	}
	return nil
}

// MatchesEvent evaluates the rule's match predicate against an event:
// event-type membership, source membership, required-tag subset and all
// field conditions. Evaluation failures, including a panicking comparison
// on unexpected value shapes, count as non-match rather than aborting the
// caller.
func (r *CorrelationRule) MatchesEvent(ev *Event) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	if len(r.EventTypes) > 0 {
		found := false
		for _, t := range r.EventTypes {
			if ev.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.Sources) > 0 {
		found := false
		for _, src := range r.Sources {
			if ev.Source == src {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, tag := range r.RequiredTags {
		if !ev.HasTag(tag) {
			return false
		}
	}

	for _, cond := range r.Conditions {
		value, _ := ev.FieldValue(cond.Field)
		if !evaluateCondition(value, cond) {
			return false
		}
	}

	return true
}

// FieldValue resolves a dotted field path against the event. Typed fields
// are reached by explicit accessor; only the normalized and enrichment
// trees are traversed dynamically.
func (e *Event) FieldValue(path string) (interface{}, bool) {
	switch path {
	case "source":
		return e.Source, true
	case "event_type":
		return string(e.Type), true
	case "severity":
		return int(e.Severity), true
	case "title":
		return e.Title, true
	case "description":
		return e.Description, true
	case "correlation_id":
		return e.CorrelationID, true
	}
	if rest, ok := strings.CutPrefix(path, "normalized."); ok {
		return digTree(e.Normalized, rest)
	}
	// Original field naming, kept for rule compatibility.
	if rest, ok := strings.CutPrefix(path, "normalized_data."); ok {
		return digTree(e.Normalized, rest)
	}
	if rest, ok := strings.CutPrefix(path, "enrichment."); ok {
		return digTree(e.Enrichment, rest)
	}
	return nil, false
}

// digTree walks a dotted path through nested string-keyed maps.
func digTree(tree map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = tree
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// evaluateCondition applies one operator to a resolved value. Missing
// values satisfy only is_null; type mismatches yield non-match.
func evaluateCondition(value interface{}, cond Condition) bool {
	if value == nil {
		return cond.Operator == OpIsNull
	}

	switch cond.Operator {
	case OpIsNull:
		return false
	case OpEquals:
		return looselyEqual(value, cond.Value)
	case OpNotEquals:
		return !looselyEqual(value, cond.Value)
	case OpContains:
		return strings.Contains(toString(value), toString(cond.Value))
	case OpRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(toString(value))
	case OpGreaterThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case OpInList:
		return inList(value, cond.Value)
	case OpNotInList:
		return !inList(value, cond.Value)
	default:
		return false
	}
}

func inList(value, list interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if looselyEqual(value, item) {
			return true
		}
	}
	return false
}

// looselyEqual compares values across the numeric and string types JSON and
// YAML decoding produce. Uncomparable dynamic types (slices, maps) must not
// panic here, so the fallback is DeepEqual rather than ==.
func looselyEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
