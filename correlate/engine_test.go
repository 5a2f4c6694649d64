package correlate

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(1000, time.Minute, zap.NewNop().Sugar())
	t.Cleanup(e.Stop)
	return e
}

func frequencyRule(threshold int, window time.Duration) *core.CorrelationRule {
	return &core.CorrelationRule{
		ID:         "freq-test",
		Name:       "Frequency Test",
		Type:       core.CorrelationTypeFrequency,
		EventTypes: []core.EventType{core.EventTypeAuthentication},
		GroupBy:    "normalized.src_ip",
		Window:     window,
		Threshold:  threshold,
		Severity:   core.SeverityHigh,
		Enabled:    true,
	}
}

func authEvent(id, srcIP string) *core.Event {
	return &core.Event{
		ID:        id,
		Timestamp: time.Now(),
		Type:      core.EventTypeAuthentication,
		Source:    "syslog",
		Severity:  core.SeverityMedium,
		Title:     "auth failure",
		Normalized: map[string]interface{}{
			"src_ip": srcIP,
		},
	}
}

func TestFrequencyRuleFiresOnce(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(5, 5*time.Minute)))

	var incidents []*core.Incident
	e.AddIncidentHandler(func(inc *core.Incident) { incidents = append(incidents, inc) })

	for i := 0; i < 4; i++ {
		out := e.ProcessEvent(authEvent(fmt.Sprintf("ev-%d", i), "10.0.0.5"))
		assert.Empty(t, out)
	}

	out := e.ProcessEvent(authEvent("ev-4", "10.0.0.5"))
	require.Len(t, out, 1)
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Equal(t, "freq-test", inc.RuleID)
	assert.Equal(t, core.SeverityHigh, inc.Severity)
	assert.Len(t, inc.Events, 5)
	assert.Contains(t, inc.Title, "5 events detected")
	assert.Contains(t, inc.Tags, "correlation")

	// Context is resolved: the next event starts accumulation from scratch.
	assert.Empty(t, e.ActiveContexts())
	out = e.ProcessEvent(authEvent("ev-5", "10.0.0.5"))
	assert.Empty(t, out)
	require.Len(t, e.ActiveContexts(), 1)
	assert.Equal(t, 1, e.ActiveContexts()[0].EventCount)
}

func TestFrequencyRuleGroupsIndependently(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(3, 5*time.Minute)))

	e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	e.ProcessEvent(authEvent("a2", "10.0.0.1"))
	e.ProcessEvent(authEvent("b1", "10.0.0.2"))

	// Two events for one ip and one for another: neither group fires.
	assert.Len(t, e.ActiveContexts(), 2)

	out := e.ProcessEvent(authEvent("a3", "10.0.0.1"))
	require.Len(t, out, 1)
	assert.Equal(t, "10.0.0.1", out[0].Metadata["group_value"])
}

func TestFrequencyWindowExcludesOldEvents(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(3, 50*time.Millisecond)))

	// Two events now, then wait past the window before the third.
	e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	e.ProcessEvent(authEvent("a2", "10.0.0.1"))
	time.Sleep(70 * time.Millisecond)

	out := e.ProcessEvent(authEvent("a3", "10.0.0.1"))
	assert.Empty(t, out)
}

func TestSequenceRuleOrdering(t *testing.T) {
	seqRule := func() *core.CorrelationRule {
		return &core.CorrelationRule{
			ID:   "seq-test",
			Name: "Sequence Test",
			Type: core.CorrelationTypeSequence,
			Sequence: []core.SequencePattern{
				{"event_type": "authentication"},
				{"event_type": "network"},
				{"event_type": "endpoint"},
			},
			GroupBy:   "source",
			Window:    time.Minute,
			Threshold: 1,
			Severity:  core.SeverityCritical,
			Enabled:   true,
		}
	}
	mk := func(id string, typ core.EventType) *core.Event {
		return &core.Event{ID: id, Timestamp: time.Now(), Type: typ, Source: "agent"}
	}

	e := newTestEngine(t)
	require.NoError(t, e.AddRule(seqRule()))

	// In order: fires on the third event.
	assert.Empty(t, e.ProcessEvent(mk("1", core.EventTypeAuthentication)))
	assert.Empty(t, e.ProcessEvent(mk("2", core.EventTypeNetwork)))
	out := e.ProcessEvent(mk("3", core.EventTypeEndpoint))
	require.Len(t, out, 1)
	assert.Equal(t, core.SeverityCritical, out[0].Severity)

	// Out of order: no incident.
	e2 := newTestEngine(t)
	require.NoError(t, e2.AddRule(seqRule()))
	assert.Empty(t, e2.ProcessEvent(mk("1", core.EventTypeAuthentication)))
	assert.Empty(t, e2.ProcessEvent(mk("2", core.EventTypeEndpoint)))
	assert.Empty(t, e2.ProcessEvent(mk("3", core.EventTypeNetwork)))
}

func TestContextExpiryWithoutIncident(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(5, 40*time.Millisecond)))

	e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	require.Len(t, e.ActiveContexts(), 1)

	// Idle for more than twice the window; the next event sweep reclaims
	// the context, and no incident is ever emitted for it.
	time.Sleep(100 * time.Millisecond)

	var fired bool
	e.AddIncidentHandler(func(*core.Incident) { fired = true })
	e.ProcessEvent(&core.Event{ID: "x", Timestamp: time.Now(), Type: core.EventTypeNetwork, Source: "s"})

	assert.False(t, fired)
	assert.Empty(t, e.ActiveContexts())
}

func TestAddRuleValidation(t *testing.T) {
	e := newTestEngine(t)

	// Missing required fields.
	assert.Error(t, e.AddRule(&core.CorrelationRule{ID: "x"}))

	// Unknown operator is rejected at registration time.
	bad := frequencyRule(3, time.Minute)
	bad.Conditions = []core.Condition{{Field: "source", Operator: "matches", Value: "x"}}
	err := e.AddRule(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownOperator)

	// Duplicate id.
	require.NoError(t, e.AddRule(frequencyRule(3, time.Minute)))
	err = e.AddRule(frequencyRule(3, time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDuplicateRule)
}

func TestRemoveRulePurgesContexts(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(5, time.Minute)))

	e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	require.Len(t, e.ActiveContexts(), 1)

	require.NoError(t, e.RemoveRule("freq-test"))
	assert.Empty(t, e.ActiveContexts())
	assert.Empty(t, e.Rules())

	err := e.RemoveRule("freq-test")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRuleNotFound)
}

func TestDisabledRuleIgnored(t *testing.T) {
	e := newTestEngine(t)
	rule := frequencyRule(1, time.Minute)
	rule.Enabled = false
	require.NoError(t, e.AddRule(rule))

	out := e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	assert.Empty(t, out)
	assert.Empty(t, e.ActiveContexts())
}

func TestIncidentHandlerPanicIsolation(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(1, time.Minute)))

	var delivered int
	e.AddIncidentHandler(func(*core.Incident) { panic("handler bug") })
	e.AddIncidentHandler(func(*core.Incident) { delivered++ })

	out := e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	require.Len(t, out, 1)
	assert.Equal(t, 1, delivered)
}

func TestMaxContextEventsCap(t *testing.T) {
	e := NewEngine(3, time.Minute, zap.NewNop().Sugar())
	defer e.Stop()

	// A sequence that never completes keeps its context accumulating;
	// the cap bounds it.
	rule := &core.CorrelationRule{
		ID:   "never-completes",
		Name: "Never Completes",
		Type: core.CorrelationTypeSequence,
		Sequence: []core.SequencePattern{
			{"event_type": "endpoint"},
			{"event_type": "endpoint"},
		},
		GroupBy:   "source",
		Window:    time.Minute,
		Threshold: 1,
		Enabled:   true,
	}
	require.NoError(t, e.AddRule(rule))

	for i := 0; i < 10; i++ {
		e.ProcessEvent(authEvent(fmt.Sprintf("ev-%d", i), "10.0.0.1"))
	}

	ctxs := e.ActiveContexts()
	require.Len(t, ctxs, 1)
	assert.Equal(t, 3, ctxs[0].EventCount)
}

func TestAddRuleRejectsUnreachableThreshold(t *testing.T) {
	e := NewEngine(3, time.Minute, zap.NewNop().Sugar())
	defer e.Stop()

	// A threshold above the per-context event cap can never be reached.
	err := e.AddRule(frequencyRule(100, time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event cap")

	longSeq := &core.CorrelationRule{
		ID:   "long-seq",
		Name: "Long Sequence",
		Type: core.CorrelationTypeSequence,
		Sequence: []core.SequencePattern{
			{"event_type": "authentication"},
			{"event_type": "network"},
			{"event_type": "network"},
			{"event_type": "endpoint"},
		},
		Window:    time.Minute,
		Threshold: 1,
		Enabled:   true,
	}
	require.Error(t, e.AddRule(longSeq))
	assert.Empty(t, e.Rules())

	// At the cap exactly, registration succeeds.
	require.NoError(t, e.AddRule(frequencyRule(3, time.Minute)))
}

func TestListValuedConditionDoesNotWedgeEngine(t *testing.T) {
	e := newTestEngine(t)

	rule := frequencyRule(2, time.Minute)
	rule.Conditions = []core.Condition{
		{Field: "normalized.open_ports", Operator: core.OpEquals, Value: []interface{}{22, 80}},
	}
	require.NoError(t, e.AddRule(rule))

	mk := func(id string, ports []interface{}) *core.Event {
		ev := authEvent(id, "10.0.0.1")
		ev.Normalized["open_ports"] = ports
		return ev
	}

	// A list-valued field compared against a list-valued condition must
	// evaluate, not panic: mismatching lists are a non-match.
	assert.Empty(t, e.ProcessEvent(mk("a1", []interface{}{443})))
	assert.Empty(t, e.ActiveContexts())

	// Matching lists count toward the threshold as usual.
	assert.Empty(t, e.ProcessEvent(mk("a2", []interface{}{22, 80})))
	out := e.ProcessEvent(mk("a3", []interface{}{22, 80}))
	require.Len(t, out, 1)

	// The engine is still serviceable afterwards; a wedged mutex would
	// block here forever.
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.ProcessEvent(mk("a4", []interface{}{443}))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine deadlocked after list-valued condition")
	}
}

func TestGetStats(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(2, time.Minute)))

	e.ProcessEvent(authEvent("a1", "10.0.0.1"))
	e.ProcessEvent(authEvent("a2", "10.0.0.1"))

	stats := e.GetStats()
	assert.EqualValues(t, 2, stats.EventsAnalyzed)
	assert.EqualValues(t, 2, stats.RulesTriggered)
	assert.EqualValues(t, 1, stats.IncidentsCreated)
	assert.Equal(t, 1, stats.TotalRules)
	assert.Equal(t, 1, stats.ActiveRules)
}

func TestConcurrentProcessEvent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(frequencyRule(10, time.Minute)))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.ProcessEvent(authEvent(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("10.0.0.%d", w)))
			}
		}(w)
	}
	wg.Wait()

	assert.EqualValues(t, 400, e.GetStats().EventsAnalyzed)
}

func TestBuiltinRulesRegister(t *testing.T) {
	e := newTestEngine(t)
	for _, rule := range BuiltinRules() {
		require.NoError(t, e.AddRule(rule))
	}
	assert.Len(t, e.Rules(), 3)
}
