package normalize

import (
	"fmt"

	"argus/core"
)

// FallbackNormalizer handles sources with no registered normalizer: it
// extracts a title and description and defaults to a medium-severity
// system event.
type FallbackNormalizer struct{}

func (FallbackNormalizer) Normalize(raw map[string]interface{}) (*Normalized, error) {
	title, _ := raw["message"].(string)
	if title == "" {
		title, _ = raw["title"].(string)
	}
	if title == "" {
		title = "Unclassified event"
	}
	return &Normalized{
		Title:       title,
		Description: fmt.Sprintf("%v", raw),
		EventType:   core.EventTypeSystem,
		Severity:    core.SeverityMedium,
		Fields:      map[string]interface{}{},
	}, nil
}

// SyslogNormalizer normalizes syslog-shaped payloads. Syslog priority
// codes 0-7 map onto the ordinal severity scale.
type SyslogNormalizer struct{}

func (SyslogNormalizer) Normalize(raw map[string]interface{}) (*Normalized, error) {
	message, _ := raw["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("syslog payload missing message")
	}
	facility, _ := raw["facility"].(string)
	if facility == "" {
		facility = "unknown"
	}
	host := stringField(raw, "host", "unknown")
	process := stringField(raw, "process", "unknown")

	return &Normalized{
		Title:       message,
		Description: message,
		EventType:   core.EventTypeSystem,
		Severity:    syslogSeverity(raw["severity"]),
		Tags:        []string{"syslog", facility},
		Fields: map[string]interface{}{
			"host":    host,
			"process": process,
		},
	}, nil
}

// syslogSeverity maps syslog severity codes onto the ordinal scale:
// emergency/alert/critical are critical, error is high, warning/notice
// medium, informational/debug low.
func syslogSeverity(v interface{}) core.Severity {
	code := -1
	switch val := v.(type) {
	case int:
		code = val
	case float64:
		code = int(val)
	}
	switch {
	case code >= 0 && code <= 2:
		return core.SeverityCritical
	case code == 3:
		return core.SeverityHigh
	case code == 4 || code == 5:
		return core.SeverityMedium
	case code == 6 || code == 7:
		return core.SeverityLow
	default:
		return core.SeverityMedium
	}
}

// WindowsEventNormalizer normalizes Windows event log payloads, mapping
// well-known event IDs to event types.
type WindowsEventNormalizer struct{}

func (WindowsEventNormalizer) Normalize(raw map[string]interface{}) (*Normalized, error) {
	eventID := intField(raw, "EventID")
	if eventID == 0 {
		return nil, fmt.Errorf("windows payload missing EventID")
	}
	message, _ := raw["Message"].(string)
	channel := stringField(raw, "Channel", "unknown")
	computer := stringField(raw, "Computer", "unknown")

	return &Normalized{
		Title:       fmt.Sprintf("Windows Event %d", eventID),
		Description: message,
		EventType:   windowsEventType(eventID),
		Severity:    windowsLevelSeverity(intField(raw, "Level")),
		Tags:        []string{"windows", channel},
		Fields: map[string]interface{}{
			"computer": computer,
			"event_id": eventID,
		},
	}, nil
}

// windowsEventType maps a Windows event ID to our event type taxonomy.
func windowsEventType(eventID int) core.EventType {
	switch eventID {
	case 4624, 4625, 4634, 4647, 4648:
		return core.EventTypeAuthentication
	case 4688, 4689:
		return core.EventTypeEndpoint
	case 5156, 5157, 5158:
		return core.EventTypeNetwork
	case 4698, 4699, 4700, 4701, 4702:
		return core.EventTypeSecurity
	default:
		return core.EventTypeSystem
	}
}

// windowsLevelSeverity maps the Windows level scale
// (critical/error/warning/information/verbose) onto ours.
func windowsLevelSeverity(level int) core.Severity {
	switch level {
	case 1:
		return core.SeverityCritical
	case 2:
		return core.SeverityHigh
	case 3:
		return core.SeverityMedium
	case 4, 5:
		return core.SeverityLow
	default:
		return core.SeverityMedium
	}
}

// NetworkFlowNormalizer normalizes network flow records.
type NetworkFlowNormalizer struct{}

func (NetworkFlowNormalizer) Normalize(raw map[string]interface{}) (*Normalized, error) {
	srcIP := stringField(raw, "src_ip", "unknown")
	dstIP := stringField(raw, "dst_ip", "unknown")
	protocol := stringField(raw, "protocol", "unknown")

	var bytes float64
	if b, ok := raw["bytes"].(float64); ok {
		bytes = b
	}

	return &Normalized{
		Title:       fmt.Sprintf("Network Flow %s -> %s", srcIP, dstIP),
		Description: fmt.Sprintf("Protocol: %s, Bytes: %.0f", protocol, bytes),
		EventType:   core.EventTypeNetwork,
		Severity:    core.SeverityLow,
		Tags:        []string{"network", "flow", protocol},
		Fields: map[string]interface{}{
			"src_ip":   srcIP,
			"dst_ip":   dstIP,
			"src_port": raw["src_port"],
			"dst_port": raw["dst_port"],
			"protocol": protocol,
			"bytes":    bytes,
		},
	}, nil
}

func stringField(raw map[string]interface{}, key, fallback string) string {
	if s, ok := raw[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func intField(raw map[string]interface{}, key string) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
