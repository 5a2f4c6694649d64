package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperator(t *testing.T) {
	for _, name := range []string{"equals", "not_equals", "contains", "regex",
		"greater_than", "less_than", "in_list", "not_in_list", "is_null"} {
		op, err := ParseOperator(name)
		require.NoError(t, err)
		assert.Equal(t, Operator(name), op)
	}

	_, err := ParseOperator("matches")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestFieldValue(t *testing.T) {
	ev := &Event{
		Source:   "syslog",
		Type:     EventTypeAuthentication,
		Severity: SeverityHigh,
		Title:    "Login failed",
		Normalized: map[string]interface{}{
			"src_ip": "10.0.0.1",
			"geo": map[string]interface{}{
				"country": "DE",
			},
		},
		Enrichment: map[string]interface{}{
			"threat_intel": map[string]interface{}{
				"score": 85,
			},
		},
	}

	v, ok := ev.FieldValue("source")
	require.True(t, ok)
	assert.Equal(t, "syslog", v)

	v, ok = ev.FieldValue("event_type")
	require.True(t, ok)
	assert.Equal(t, "authentication", v)

	v, ok = ev.FieldValue("severity")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = ev.FieldValue("normalized.src_ip")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	// Nested path through the normalized tree.
	v, ok = ev.FieldValue("normalized.geo.country")
	require.True(t, ok)
	assert.Equal(t, "DE", v)

	// Legacy field naming resolves to the same tree.
	v, ok = ev.FieldValue("normalized_data.src_ip")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	v, ok = ev.FieldValue("enrichment.threat_intel.score")
	require.True(t, ok)
	assert.Equal(t, 85, v)

	_, ok = ev.FieldValue("normalized.missing")
	assert.False(t, ok)

	_, ok = ev.FieldValue("raw.anything")
	assert.False(t, ok)
}

func TestMatchesEventConditions(t *testing.T) {
	rule := &CorrelationRule{
		ID:         "test",
		Name:       "Test",
		Type:       CorrelationTypeFrequency,
		EventTypes: []EventType{EventTypeAuthentication},
		Conditions: []Condition{
			{Field: "normalized.auth_result", Operator: OpEquals, Value: "failed"},
			{Field: "normalized.attempts", Operator: OpGreaterThan, Value: 3},
		},
		Window:    time.Minute,
		Threshold: 1,
		Enabled:   true,
	}

	ev := &Event{
		Type: EventTypeAuthentication,
		Normalized: map[string]interface{}{
			"auth_result": "failed",
			"attempts":    float64(5),
		},
	}
	assert.True(t, rule.MatchesEvent(ev))

	// Wrong event type never matches.
	ev2 := *ev
	ev2.Type = EventTypeNetwork
	assert.False(t, rule.MatchesEvent(&ev2))

	// Failing condition.
	ev3 := &Event{
		Type: EventTypeAuthentication,
		Normalized: map[string]interface{}{
			"auth_result": "failed",
			"attempts":    float64(2),
		},
	}
	assert.False(t, rule.MatchesEvent(ev3))

	// Missing condition field counts as non-match, not an error.
	ev4 := &Event{
		Type:       EventTypeAuthentication,
		Normalized: map[string]interface{}{"auth_result": "failed"},
	}
	assert.False(t, rule.MatchesEvent(ev4))
}

func TestMatchesEventTagsAndSources(t *testing.T) {
	rule := &CorrelationRule{
		ID:           "tagged",
		Name:         "Tagged",
		Type:         CorrelationTypeFrequency,
		Sources:      []string{"firewall"},
		RequiredTags: []string{"blocked"},
		Window:       time.Minute,
		Threshold:    1,
		Enabled:      true,
	}

	ev := &Event{Source: "firewall", Tags: []string{"blocked", "outbound"}}
	assert.True(t, rule.MatchesEvent(ev))

	assert.False(t, rule.MatchesEvent(&Event{Source: "ids", Tags: []string{"blocked"}}))
	assert.False(t, rule.MatchesEvent(&Event{Source: "firewall", Tags: []string{"outbound"}}))
}

func TestEvaluateConditionOperators(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		cond  Condition
		want  bool
	}{
		{"equals string", "a", Condition{Operator: OpEquals, Value: "a"}, true},
		{"equals cross numeric", float64(5), Condition{Operator: OpEquals, Value: 5}, true},
		{"not_equals", "a", Condition{Operator: OpNotEquals, Value: "b"}, true},
		{"contains", "curl http://x", Condition{Operator: OpContains, Value: "curl"}, true},
		{"regex match", "10.0.0.1", Condition{Operator: OpRegex, Value: `^\d+\.\d+`}, true},
		{"regex no match", "host", Condition{Operator: OpRegex, Value: `^\d+$`}, false},
		{"greater_than", float64(10), Condition{Operator: OpGreaterThan, Value: 5}, true},
		{"less_than", float64(3), Condition{Operator: OpLessThan, Value: 5}, true},
		{"greater_than non-numeric", "abc", Condition{Operator: OpGreaterThan, Value: 5}, false},
		{"in_list", "b", Condition{Operator: OpInList, Value: []interface{}{"a", "b"}}, true},
		{"not_in_list", "c", Condition{Operator: OpNotInList, Value: []interface{}{"a", "b"}}, true},
		{"equals matching lists", []interface{}{22, 80}, Condition{Operator: OpEquals, Value: []interface{}{22, 80}}, true},
		{"equals mismatched lists", []interface{}{443}, Condition{Operator: OpEquals, Value: []interface{}{22, 80}}, false},
		{"equals matching maps", map[string]interface{}{"a": 1}, Condition{Operator: OpEquals, Value: map[string]interface{}{"a": 1}}, true},
		{"in_list of lists", []interface{}{22}, Condition{Operator: OpInList, Value: []interface{}{[]interface{}{22}, []interface{}{80}}}, true},
		{"is_null on nil", nil, Condition{Operator: OpIsNull}, true},
		{"is_null on value", "x", Condition{Operator: OpIsNull}, false},
		{"nil fails equals", nil, Condition{Operator: OpEquals, Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateCondition(tt.value, tt.cond))
		})
	}
}

func TestMatchesEventListValuedCondition(t *testing.T) {
	rule := &CorrelationRule{
		ID:   "list-cond",
		Name: "List Condition",
		Type: CorrelationTypeFrequency,
		Conditions: []Condition{
			{Field: "normalized.open_ports", Operator: OpEquals, Value: []interface{}{22, 80}},
		},
		Window:    time.Minute,
		Threshold: 1,
		Enabled:   true,
	}

	match := &Event{Normalized: map[string]interface{}{"open_ports": []interface{}{22, 80}}}
	assert.True(t, rule.MatchesEvent(match))

	miss := &Event{Normalized: map[string]interface{}{"open_ports": []interface{}{443}}}
	assert.False(t, rule.MatchesEvent(miss))
}

func TestCorrelationRuleValidate(t *testing.T) {
	valid := &CorrelationRule{
		ID:        "ok",
		Name:      "OK",
		Type:      CorrelationTypeFrequency,
		Window:    time.Minute,
		Threshold: 1,
	}
	require.NoError(t, valid.Validate())

	badType := *valid
	badType.Type = "fancy"
	assert.Error(t, badType.Validate())

	badOp := *valid
	badOp.Conditions = []Condition{{Field: "source", Operator: "matches", Value: "x"}}
	err := badOp.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOperator)

	badRegex := *valid
	badRegex.Conditions = []Condition{{Field: "title", Operator: OpRegex, Value: "("}}
	assert.Error(t, badRegex.Validate())

	emptySeq := *valid
	emptySeq.Type = CorrelationTypeSequence
	assert.Error(t, emptySeq.Validate())
}
