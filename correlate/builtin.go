package correlate

import (
	"time"

	"argus/core"
)

// BuiltinRules returns the shipped correlation rule set: brute force,
// lateral movement and data exfiltration detection.
func BuiltinRules() []*core.CorrelationRule {
	return []*core.CorrelationRule{
		BruteForceRule(),
		LateralMovementRule(),
		DataExfiltrationRule(),
	}
}

// BruteForceRule detects repeated failed authentications from one source
// address.
func BruteForceRule() *core.CorrelationRule {
	return &core.CorrelationRule{
		ID:          "brute_force_detection",
		Name:        "Brute Force Detection",
		Description: "Detects repeated authentication failures from a single source IP",
		Type:        core.CorrelationTypeFrequency,
		EventTypes:  []core.EventType{core.EventTypeAuthentication},
		Conditions: []core.Condition{
			{Field: "normalized.auth_result", Operator: core.OpEquals, Value: "failed"},
		},
		GroupBy:   "normalized.src_ip",
		Window:    5 * time.Minute,
		Threshold: 5,
		Severity:  core.SeverityHigh,
		Enabled:   true,
		Tags:      []string{"brute_force", "authentication"},
	}
}

// LateralMovementRule detects the successful-login, SMB, psexec sequence
// for one user.
func LateralMovementRule() *core.CorrelationRule {
	return &core.CorrelationRule{
		ID:          "lateral_movement_detection",
		Name:        "Lateral Movement Detection",
		Description: "Detects lateral movement attempts across the network",
		Type:        core.CorrelationTypeSequence,
		Sequence: []core.SequencePattern{
			{"event_type": "authentication", "normalized.auth_result": "success"},
			{"event_type": "network", "normalized.protocol": "SMB"},
			{"event_type": "endpoint", "normalized.process_name": "psexec.exe"},
		},
		GroupBy:   "normalized.user",
		Window:    30 * time.Minute,
		Threshold: 1,
		Severity:  core.SeverityCritical,
		Enabled:   true,
		Tags:      []string{"lateral_movement", "apt"},
	}
}

// DataExfiltrationRule detects sustained large outbound transfers from one
// source address.
func DataExfiltrationRule() *core.CorrelationRule {
	return &core.CorrelationRule{
		ID:          "data_exfiltration_detection",
		Name:        "Data Exfiltration Detection",
		Description: "Detects data exfiltration attempts over the network",
		Type:        core.CorrelationTypeStatistical,
		EventTypes:  []core.EventType{core.EventTypeNetwork},
		Conditions: []core.Condition{
			{Field: "normalized.bytes", Operator: core.OpGreaterThan, Value: 1000000},
		},
		GroupBy:   "normalized.src_ip",
		Window:    time.Hour,
		Threshold: 10,
		Severity:  core.SeverityHigh,
		Enabled:   true,
		Tags:      []string{"data_exfiltration", "network"},
	}
}
