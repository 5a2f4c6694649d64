// Package core defines the shared schema for the Argus correlation core:
// canonical events, correlation rules, incidents and the records persisted
// by the stateful pattern detector.
package core

import (
	"time"
)

// EventType classifies the telemetry domain an event belongs to.
type EventType string

const (
	EventTypeNetwork        EventType = "network"
	EventTypeEndpoint       EventType = "endpoint"
	EventTypeApplication    EventType = "application"
	EventTypeAuthentication EventType = "authentication"
	EventTypeSystem         EventType = "system"
	EventTypeSecurity       EventType = "security"
	EventTypeThreatIntel    EventType = "threat_intel"
)

// ParseEventType maps a raw event type string to an EventType.
// Unknown values fall back to EventTypeSystem.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventTypeNetwork, EventTypeEndpoint, EventTypeApplication,
		EventTypeAuthentication, EventTypeSecurity, EventTypeThreatIntel, EventTypeSystem:
		return EventType(s)
	case "auth":
		return EventTypeAuthentication
	case "threat":
		return EventTypeThreatIntel
	default:
		return EventTypeSystem
	}
}

// Severity is an ordinal severity level, low (1) through critical (4).
type Severity int

const (
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "medium"
	}
}

// ParseSeverity maps a severity name or 1-4 ordinal to a Severity.
// Anything unrecognized maps to medium.
func ParseSeverity(v interface{}) Severity {
	switch val := v.(type) {
	case Severity:
		return val
	case string:
		switch val {
		case "low":
			return SeverityLow
		case "medium":
			return SeverityMedium
		case "high":
			return SeverityHigh
		case "critical":
			return SeverityCritical
		}
	case int:
		if val >= 1 && val <= 4 {
			return Severity(val)
		}
	case float64:
		if val >= 1 && val <= 4 {
			return Severity(int(val))
		}
	}
	return SeverityMedium
}

// Event is the canonical normalized security telemetry record. Events are
// created once by the normalizer and shared read-only by all consumers.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Type          EventType              `json:"event_type"`
	Source        string                 `json:"source"`
	Severity      Severity               `json:"severity"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Raw           map[string]interface{} `json:"raw_data"`
	Normalized    map[string]interface{} `json:"normalized_data"`
	Enrichment    map[string]interface{} `json:"enrichment_data"`
	Tags          []string               `json:"tags"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
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

// Incident is the output of a satisfied correlation rule: an immutable
// snapshot of the contributing events plus rule metadata.
type Incident struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"rule_id"`
	RuleName    string                 `json:"rule_name"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Severity    Severity               `json:"severity"`
	Events      []*Event               `json:"events"`
	CreatedAt   time.Time              `json:"created_at"`
	Tags        []string               `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AuthEventKind identifies the pattern an authentication log line matched.
type AuthEventKind string

const (
	AuthKindSSHFailed      AuthEventKind = "ssh_auth_failed"
	AuthKindSSHSuccess     AuthEventKind = "ssh_auth_success"
	AuthKindSSHInvalidUser AuthEventKind = "ssh_invalid_user"
	AuthKindSudoCommand    AuthEventKind = "sudo_command"
)

// AuthEvent is a parsed authentication log line, persisted append-only for
// later evidence retrieval.
type AuthEvent struct {
	ID         int64         `json:"id,omitempty"`
	AgentID    string        `json:"agent_id"`
	Hostname   string        `json:"hostname"`
	Kind       AuthEventKind `json:"event_kind"`
	SrcIP      string        `json:"src_ip"`
	Username   string        `json:"username"`
	AuthMethod string        `json:"auth_method"`
	Command    string        `json:"command"`
	Message    string        `json:"message"`
	ObservedAt time.Time     `json:"observed_at"`
	CreatedAt  time.Time     `json:"created_at,omitempty"`
}

// CounterState is the durable sliding counter for one
// (rule id, hostname, source ip) key. It is the authority for windowing in
// brute-force-style detection and survives restarts.
type CounterState struct {
	Key           string     `json:"key"`
	RuleID        string     `json:"rule_id"`
	Count         int        `json:"count"`
	WindowSeconds int        `json:"window_seconds"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	Usernames     []string   `json:"usernames"`
	LastAlertAt   *time.Time `json:"last_alert_at,omitempty"`
}

// CounterKey builds the state key for a detector counter.
func CounterKey(ruleID, hostname, srcIP string) string {
	return ruleID + "|" + hostname + "|" + srcIP
}

// Alert is the output of the stateful pattern detector, persisted
// append-only with its evidence snapshot.
type Alert struct {
	ID            int64       `json:"id,omitempty"`
	RuleID        string      `json:"rule_id"`
	Severity      Severity    `json:"severity"`
	AgentID       string      `json:"agent_id"`
	Hostname      string      `json:"hostname"`
	SrcIP         string      `json:"src_ip"`
	Username      string      `json:"username"`
	Count         int         `json:"count"`
	WindowSeconds int         `json:"window_seconds"`
	FirstSeen     time.Time   `json:"first_seen"`
	LastSeen      time.Time   `json:"last_seen"`
	Evidence      []AuthEvent `json:"evidence"`
	CreatedAt     time.Time   `json:"created_at"`
}
