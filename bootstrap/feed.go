package bootstrap

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"argus/core"
	"argus/normalize"
)

// feedLine is one newline-delimited JSON record on the input feed. Agents
// send either a raw telemetry event for normalization or a host auth log
// line for the pattern detector.
type feedLine struct {
	Kind       string                 `json:"kind"`
	Source     string                 `json:"source"`
	Payload    map[string]interface{} `json:"payload"`
	AgentID    string                 `json:"agent_id"`
	Hostname   string                 `json:"hostname"`
	Message    string                 `json:"message"`
	ObservedAt time.Time              `json:"observed_at"`
}

// wirePipeline connects the stages: normalized events feed the correlation
// engine, and both incidents and detector alerts are logged.
func (a *App) wirePipeline() {
	a.Processor.AddOutputHandler(func(ev *core.Event) {
		a.Engine.ProcessEvent(ev)
	})

	a.Engine.AddIncidentHandler(func(incident *core.Incident) {
		a.Sugar.Infow("Incident created",
			"incident_id", incident.ID,
			"rule_id", incident.RuleID,
			"severity", incident.Severity.String(),
			"events", len(incident.Events))
	})

	a.Detector.AddAlertHandler(func(alert *core.Alert) {
		a.Sugar.Infow("Alert raised",
			"rule_id", alert.RuleID,
			"severity", alert.Severity.String(),
			"hostname", alert.Hostname,
			"src_ip", alert.SrcIP,
			"count", alert.Count)
	})
}

// RegisterBuiltinNormalizers installs the shipped source normalizers on
// the processor.
func RegisterBuiltinNormalizers(p *normalize.Processor) {
	p.RegisterNormalizer("syslog", normalize.SyslogNormalizer{})
	p.RegisterNormalizer("windows_event", normalize.WindowsEventNormalizer{})
	p.RegisterNormalizer("network_flow", normalize.NetworkFlowNormalizer{})
}

// runFeed consumes newline-delimited JSON records until EOF or context
// cancellation. Malformed lines are logged and skipped.
func (a *App) runFeed(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec feedLine
		if err := json.Unmarshal(line, &rec); err != nil {
			a.Sugar.Warnw("Malformed feed line skipped", "error", err)
			continue
		}

		switch rec.Kind {
		case "event", "":
			if _, err := a.Processor.Process(rec.Payload, rec.Source); err != nil {
				a.Sugar.Debugw("Event rejected", "source", rec.Source, "error", err)
			}
		case "auth_line":
			if err := a.Detector.ProcessAuthLine(ctx, rec.AgentID, rec.Hostname, rec.Message, rec.ObservedAt); err != nil {
				a.Sugar.Errorw("Auth line processing failed",
					"hostname", rec.Hostname, "error", err)
			}
		default:
			a.Sugar.Warnw("Unknown feed record kind skipped", "kind", rec.Kind)
		}
	}

	if err := scanner.Err(); err != nil {
		a.Sugar.Errorw("Feed read failed", "error", err)
	}
	a.Sugar.Info("Input feed closed")
}
