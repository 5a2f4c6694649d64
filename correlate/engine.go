// Package correlate implements the stateful correlation engine: it matches
// canonical events against registered rules, maintains per-rule-per-group
// time-windowed contexts, and emits incidents when thresholds are met.
package correlate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"
)

// contextKeySep separates rule id from group value in context keys.
const contextKeySep = "\x1f"

// IncidentHandler receives every emitted incident. Handlers are isolated
// from each other and from the engine's state.
type IncidentHandler func(*core.Incident)

// correlationContext aggregates the events one rule has matched for one
// group value. count always equals len(events).
type correlationContext struct {
	ruleID     string
	groupValue string
	events     []*core.Event
	firstSeen  time.Time
	lastSeen   time.Time
	count      int
}

func (c *correlationContext) addEvent(ev *core.Event, maxEvents int) {
	c.events = append(c.events, ev)
	c.count++
	if c.count > maxEvents {
		drop := c.count - maxEvents
		c.events = append([]*core.Event(nil), c.events[drop:]...)
		c.count = maxEvents
	}
	if c.firstSeen.IsZero() || ev.Timestamp.Before(c.firstSeen) {
		c.firstSeen = ev.Timestamp
	}
	if ev.Timestamp.After(c.lastSeen) {
		c.lastSeen = ev.Timestamp
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	EventsAnalyzed   int64
	RulesTriggered   int64
	IncidentsCreated int64
	ActiveContexts   int
	ActiveRules      int
	TotalRules       int
}

// ContextInfo describes one live correlation context.
type ContextInfo struct {
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	GroupValue string    `json:"group_value"`
	EventCount int       `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Engine owns the rule registry and the context map. One mutex serializes
// rule mutation, event evaluation and garbage collection, so a context can
// never be resolved twice or evaluated against a half-removed rule.
// Incident handler dispatch happens outside the lock.
type Engine struct {
	mu       sync.Mutex
	rules    map[string]*core.CorrelationRule
	contexts map[string]*correlationContext

	handlerMu sync.RWMutex
	handlers  []IncidentHandler

	maxContextEvents int
	eventsAnalyzed   int64
	rulesTriggered   int64
	incidentsCreated int64

	validate *validator.Validate
	logger   *zap.SugaredLogger

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// NewEngine creates a correlation engine and starts its background sweep
// of expired contexts at gcInterval.
func NewEngine(maxContextEvents int, gcInterval time.Duration, logger *zap.SugaredLogger) *Engine {
	if maxContextEvents < 1 {
		maxContextEvents = 1
	}
	e := &Engine{
		rules:            make(map[string]*core.CorrelationRule),
		contexts:         make(map[string]*correlationContext),
		maxContextEvents: maxContextEvents,
		validate:         validator.New(),
		logger:           logger,
	}
	e.gcCtx, e.gcCancel = context.WithCancel(context.Background())
	e.startGC(gcInterval)
	return e
}

// AddRule validates and registers a rule. Unknown operators, invalid regex
// values and missing required fields are rejected here rather than at
// evaluation time.
func (e *Engine) AddRule(rule *core.CorrelationRule) error {
	if err := e.validate.Struct(rule); err != nil {
		return fmt.Errorf("rule %s failed validation: %w", rule.ID, err)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	// A threshold beyond the context event cap can never be reached: the
	// context plateaus below it and the rule silently never fires.
	if rule.Threshold > e.maxContextEvents {
		return fmt.Errorf("rule %s: threshold %d exceeds the per-context event cap %d",
			rule.ID, rule.Threshold, e.maxContextEvents)
	}
	if len(rule.Sequence) > e.maxContextEvents {
		return fmt.Errorf("rule %s: sequence length %d exceeds the per-context event cap %d",
			rule.ID, len(rule.Sequence), e.maxContextEvents)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateRule, rule.ID)
	}
	e.rules[rule.ID] = rule
	e.logger.Infow("correlation rule added", "rule_id", rule.ID, "name", rule.Name, "type", rule.Type)
	return nil
}

// RemoveRule unregisters a rule and purges its contexts.
func (e *Engine) RemoveRule(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[ruleID]; !exists {
		return fmt.Errorf("%w: %s", core.ErrRuleNotFound, ruleID)
	}
	delete(e.rules, ruleID)
	prefix := ruleID + contextKeySep
	for key := range e.contexts {
		if strings.HasPrefix(key, prefix) {
			delete(e.contexts, key)
		}
	}
	metrics.ContextsActive.Set(float64(len(e.contexts)))
	e.logger.Infow("correlation rule removed", "rule_id", ruleID)
	return nil
}

// Rules returns a snapshot of the registered rules.
func (e *Engine) Rules() []*core.CorrelationRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := make([]*core.CorrelationRule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// AddIncidentHandler registers a handler for emitted incidents.
func (e *Engine) AddIncidentHandler(h IncidentHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// ProcessEvent evaluates one event against every enabled rule, updating
// contexts and returning the incidents the event triggered. Handlers
// receive the incidents after engine state is settled.
func (e *Engine) ProcessEvent(ev *core.Event) []*core.Incident {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	incidents := e.evaluate(ev)

	for _, incident := range incidents {
		metrics.IncidentsCreated.WithLabelValues(incident.RuleID, incident.Severity.String()).Inc()
		e.dispatch(incident)
	}
	return incidents
}

// evaluate runs the locked portion of event processing. The unlock is
// deferred so a panicking rule evaluator cannot wedge the engine mutex.
func (e *Engine) evaluate(ev *core.Event) []*core.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()

	var incidents []*core.Incident
	e.eventsAnalyzed++
	for _, rule := range e.rules {
		if !rule.Enabled || !rule.MatchesEvent(ev) {
			continue
		}
		e.rulesTriggered++

		key := rule.ID + contextKeySep + groupValue(ev, rule)
		ctx, exists := e.contexts[key]
		if !exists {
			ctx = &correlationContext{
				ruleID:     rule.ID,
				groupValue: strings.TrimPrefix(key, rule.ID+contextKeySep),
			}
			e.contexts[key] = ctx
		}
		ctx.addEvent(ev, e.maxContextEvents)

		if thresholdSatisfied(rule, ctx) {
			incident := buildIncident(rule, ctx)
			incidents = append(incidents, incident)
			delete(e.contexts, key)
			e.incidentsCreated++
		}
	}
	e.gcLocked(time.Now())
	metrics.ContextsActive.Set(float64(len(e.contexts)))
	return incidents
}

// dispatch delivers one incident to every registered handler. A panicking
// handler is logged and must not prevent the others from running.
func (e *Engine) dispatch(incident *core.Incident) {
	e.handlerMu.RLock()
	handlers := e.handlers
	e.handlerMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer goroutine.Recover("incident-handler", e.logger)
			h(incident)
		}()
	}
}

// groupValue resolves the rule's grouping key against the event,
// defaulting to the event source.
func groupValue(ev *core.Event, rule *core.CorrelationRule) string {
	path := rule.GroupBy
	if path == "" || path == "source" {
		return ev.Source
	}
	v, ok := ev.FieldValue(path)
	if !ok || v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%v", v)
}

// thresholdSatisfied applies the rule type's threshold policy to the
// context.
func thresholdSatisfied(rule *core.CorrelationRule, ctx *correlationContext) bool {
	switch rule.Type {
	case core.CorrelationTypeFrequency:
		cutoff := time.Now().Add(-rule.Window)
		recent := 0
		for _, ev := range ctx.events {
			if !ev.Timestamp.Before(cutoff) {
				recent++
			}
		}
		return recent >= rule.Threshold

	case core.CorrelationTypeSequence:
		n := len(rule.Sequence)
		if ctx.count < n {
			return false
		}
		tail := ctx.events[ctx.count-n:]
		for i, pattern := range rule.Sequence {
			if !matchesPattern(tail[i], pattern) {
				return false
			}
		}
		return true

	default:
		// statistical, behavioral, geolocation, time_based: plain count
		// threshold; richer statistics are an extension point.
		return ctx.count >= rule.Threshold
	}
}

// matchesPattern checks every field of one sequence step against the
// event; any deviation fails the step.
func matchesPattern(ev *core.Event, pattern core.SequencePattern) bool {
	for field, expected := range pattern {
		value, ok := ev.FieldValue(field)
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", value) != fmt.Sprintf("%v", expected) {
			return false
		}
	}
	return true
}

// buildIncident snapshots the context into an immutable incident.
func buildIncident(rule *core.CorrelationRule, ctx *correlationContext) *core.Incident {
	now := time.Now().UTC()
	events := make([]*core.Event, len(ctx.events))
	copy(events, ctx.events)

	sources := distinct(events, func(ev *core.Event) string { return ev.Source })
	types := distinct(events, func(ev *core.Event) string { return string(ev.Type) })
	span := ctx.lastSeen.Sub(ctx.firstSeen)

	tags := append(append([]string{}, rule.Tags...), "correlation", string(rule.Type))

	return &core.Incident{
		ID:       incidentID(rule.ID, now, events),
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Title:    fmt.Sprintf("%s - %d events detected", rule.Name, ctx.count),
		Description: fmt.Sprintf(
			"Correlation rule %q triggered | Type: %s | Events: %d | Span: %s | Sources: %s",
			rule.Name, rule.Type, ctx.count, span, strings.Join(sources, ", ")),
		Severity:  rule.Severity,
		Events:    events,
		CreatedAt: now,
		Tags:      tags,
		Metadata: map[string]interface{}{
			"rule_type":   string(rule.Type),
			"event_count": ctx.count,
			"group_value": ctx.groupValue,
			"time_span":   span.String(),
			"sources":     sources,
			"event_types": types,
		},
	}
}

// incidentID combines rule, timestamp and an event-list hash so two
// resolutions in the same second cannot collide.
func incidentID(ruleID string, now time.Time, events []*core.Event) string {
	h := sha256.New()
	for _, ev := range events {
		h.Write([]byte(ev.ID))
	}
	return fmt.Sprintf("INC_%s_%s_%s", ruleID, now.Format("20060102_150405"),
		hex.EncodeToString(h.Sum(nil))[:8])
}

func distinct(events []*core.Event, key func(*core.Event) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ev := range events {
		k := key(ev)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// gcLocked purges contexts whose rule no longer exists or that have been
// idle for more than twice their rule's window. Caller holds e.mu.
func (e *Engine) gcLocked(now time.Time) {
	for key, ctx := range e.contexts {
		rule, ok := e.rules[ctx.ruleID]
		if !ok {
			delete(e.contexts, key)
			metrics.ContextsExpired.Inc()
			continue
		}
		if now.Sub(ctx.lastSeen) > 2*rule.Window {
			delete(e.contexts, key)
			metrics.ContextsExpired.Inc()
			e.logger.Debugw("correlation context expired",
				"rule_id", ctx.ruleID, "group", ctx.groupValue, "events", ctx.count)
		}
	}
}

// startGC runs the periodic sweep so stale contexts are reclaimed even
// when ingestion pauses.
func (e *Engine) startGC(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	e.gcWg.Add(1)
	go func() {
		defer e.gcWg.Done()
		defer goroutine.Recover("correlation-gc", e.logger)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				e.gcLocked(time.Now())
				metrics.ContextsActive.Set(float64(len(e.contexts)))
				e.mu.Unlock()
			case <-e.gcCtx.Done():
				return
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to finish.
func (e *Engine) Stop() {
	e.gcCancel()
	e.gcWg.Wait()
}

// GetStats returns a snapshot of engine counters.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := 0
	for _, r := range e.rules {
		if r.Enabled {
			active++
		}
	}
	return Stats{
		EventsAnalyzed:   e.eventsAnalyzed,
		RulesTriggered:   e.rulesTriggered,
		IncidentsCreated: e.incidentsCreated,
		ActiveContexts:   len(e.contexts),
		ActiveRules:      active,
		TotalRules:       len(e.rules),
	}
}

// ActiveContexts returns a snapshot of live contexts for inspection.
func (e *Engine) ActiveContexts() []ContextInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	infos := make([]ContextInfo, 0, len(e.contexts))
	for _, ctx := range e.contexts {
		name := ""
		if rule, ok := e.rules[ctx.ruleID]; ok {
			name = rule.Name
		}
		infos = append(infos, ContextInfo{
			RuleID:     ctx.ruleID,
			RuleName:   name,
			GroupValue: ctx.groupValue,
			EventCount: ctx.count,
			FirstSeen:  ctx.firstSeen,
			LastSeen:   ctx.lastSeen,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].RuleID != infos[j].RuleID {
			return infos[i].RuleID < infos[j].RuleID
		}
		return infos[i].GroupValue < infos[j].GroupValue
	})
	return infos
}
