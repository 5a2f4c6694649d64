package detect

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
	"argus/storage"
	"argus/util/goroutine"
)

// Detector rule identifiers.
const (
	RuleSSHBruteforceIP     = "ssh_bruteforce_ip"
	RuleSSHSuccessAfterFail = "ssh_success_after_fail"
	RuleSudoRiskyCommand    = "sudo_risky_command"
)

// successAfterFailWindowSeconds is the window stamped on
// ssh_success_after_fail alerts. The rule itself has no counter; it reads
// the bruteforce counter.
const successAfterFailWindowSeconds = 600

// riskyCommandTokens flags sudo commands that warrant an immediate alert.
var riskyCommandTokens = []string{
	"/bin/bash",
	" su ",
	"useradd",
	"usermod",
	"passwd",
	"visudo",
	"chmod 777",
	"curl",
	"wget",
}

// AlertHandler receives every emitted alert after it has been persisted.
type AlertHandler func(*core.Alert)

// Options tunes the detector's windows and thresholds. Zero values take
// the defaults matching the shipped rules.
type Options struct {
	BruteforceWindow    time.Duration
	BruteforceThreshold int
	SuccessAfterFailMin int
	EvidenceLimit       int
}

func (o *Options) applyDefaults() {
	if o.BruteforceWindow <= 0 {
		o.BruteforceWindow = 300 * time.Second
	}
	if o.BruteforceThreshold < 1 {
		o.BruteforceThreshold = 10
	}
	if o.SuccessAfterFailMin < 1 {
		o.SuccessAfterFailMin = 5
	}
	if o.EvidenceLimit < 1 {
		o.EvidenceLimit = 20
	}
}

const lockShards = 64

// Detector applies the persisted detection rules to parsed auth lines.
// Counter read-modify-write is serialized per (hostname, src_ip) key via
// sharded locks; evidence queries and alert writes run outside the shard
// lock.
type Detector struct {
	store *storage.Store
	opts  Options

	shards [lockShards]sync.Mutex

	handlerMu sync.RWMutex
	handlers  []AlertHandler

	logger *zap.SugaredLogger
}

// NewDetector creates a detector backed by the given state store.
func NewDetector(store *storage.Store, opts Options, logger *zap.SugaredLogger) *Detector {
	opts.applyDefaults()
	return &Detector{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// AddAlertHandler registers a handler for emitted alerts.
func (d *Detector) AddAlertHandler(h AlertHandler) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.handlers = append(d.handlers, h)
}

// ProcessAuthLine parses one authentication log line and applies the
// detection rules. Unrecognized lines are silently ignored. Counter
// persistence failures are returned; losing one breaks detection
// continuity.
func (d *Detector) ProcessAuthLine(ctx context.Context, agentID, hostname, message string, observedAt time.Time) error {
	parsed, ok := ParseAuthLine(message)
	if !ok {
		metrics.AuthLinesIgnored.Inc()
		return nil
	}
	metrics.AuthLinesParsed.WithLabelValues(string(parsed.Kind)).Inc()

	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	parsed.AgentID = agentID
	parsed.Hostname = hostname
	parsed.ObservedAt = observedAt

	if err := d.store.InsertAuthEvent(ctx, parsed); err != nil {
		return err
	}

	switch parsed.Kind {
	case core.AuthKindSSHFailed:
		if parsed.SrcIP != "" {
			return d.onSSHFailed(ctx, parsed)
		}
	case core.AuthKindSSHSuccess:
		if parsed.SrcIP != "" {
			return d.onSSHSuccess(ctx, parsed)
		}
	case core.AuthKindSudoCommand:
		if parsed.Command != "" {
			return d.onSudoCommand(ctx, parsed)
		}
	}
	return nil
}

// onSSHFailed increments the bruteforce counter and fires an alert when
// the threshold is reached, then resets the count to zero so accumulation
// restarts from scratch.
func (d *Detector) onSSHFailed(ctx context.Context, ev *core.AuthEvent) error {
	key := core.CounterKey(RuleSSHBruteforceIP, ev.Hostname, ev.SrcIP)
	shard := d.shardFor(ev.Hostname, ev.SrcIP)

	shard.Lock()
	st, err := d.updateCounter(ctx, key, ev)
	if err != nil {
		shard.Unlock()
		metrics.CounterPersistFailures.Inc()
		return err
	}

	fired := st.Count >= d.opts.BruteforceThreshold
	firstSeen := st.FirstSeen
	count := st.Count
	if fired {
		// Immediate reset after firing: re-accumulation starts from zero,
		// no separate cooldown window.
		now := time.Now().UTC()
		reset := &core.CounterState{
			Key:           key,
			RuleID:        RuleSSHBruteforceIP,
			Count:         0,
			WindowSeconds: int(d.opts.BruteforceWindow.Seconds()),
			FirstSeen:     st.LastSeen,
			LastSeen:      st.LastSeen,
			Usernames:     st.Usernames,
			LastAlertAt:   &now,
		}
		if err := d.store.UpsertCounter(ctx, reset); err != nil {
			shard.Unlock()
			metrics.CounterPersistFailures.Inc()
			return err
		}
	}
	shard.Unlock()

	if !fired {
		return nil
	}

	evidence, err := d.store.RecentEvidence(ctx, ev.Hostname, ev.SrcIP, core.AuthKindSSHFailed, firstSeen, d.opts.EvidenceLimit)
	if err != nil {
		d.logger.Warnw("evidence query failed", "rule", RuleSSHBruteforceIP, "error", err)
	}

	alert := &core.Alert{
		RuleID:        RuleSSHBruteforceIP,
		Severity:      core.SeverityHigh,
		AgentID:       ev.AgentID,
		Hostname:      ev.Hostname,
		SrcIP:         ev.SrcIP,
		Count:         count,
		WindowSeconds: int(d.opts.BruteforceWindow.Seconds()),
		FirstSeen:     firstSeen,
		LastSeen:      ev.ObservedAt,
		Evidence:      evidence,
	}
	return d.emit(ctx, alert)
}

// onSSHSuccess checks whether a success arrives while the bruteforce
// counter for the same (hostname, src_ip) is still elevated. The success
// event leads the evidence list.
func (d *Detector) onSSHSuccess(ctx context.Context, ev *core.AuthEvent) error {
	key := core.CounterKey(RuleSSHBruteforceIP, ev.Hostname, ev.SrcIP)
	shard := d.shardFor(ev.Hostname, ev.SrcIP)

	shard.Lock()
	st, err := d.store.GetCounter(ctx, key)
	shard.Unlock()
	if err != nil {
		return err
	}
	if st == nil || st.Count < d.opts.SuccessAfterFailMin {
		return nil
	}

	failures, err := d.store.RecentEvidence(ctx, ev.Hostname, ev.SrcIP, core.AuthKindSSHFailed, st.FirstSeen, d.opts.EvidenceLimit)
	if err != nil {
		d.logger.Warnw("evidence query failed", "rule", RuleSSHSuccessAfterFail, "error", err)
	}
	evidence := append([]core.AuthEvent{*ev}, failures...)
	if len(evidence) > d.opts.EvidenceLimit {
		evidence = evidence[:d.opts.EvidenceLimit]
	}

	alert := &core.Alert{
		RuleID:        RuleSSHSuccessAfterFail,
		Severity:      core.SeverityCritical,
		AgentID:       ev.AgentID,
		Hostname:      ev.Hostname,
		SrcIP:         ev.SrcIP,
		Username:      ev.Username,
		Count:         st.Count,
		WindowSeconds: successAfterFailWindowSeconds,
		FirstSeen:     st.FirstSeen,
		LastSeen:      ev.ObservedAt,
		Evidence:      evidence,
	}
	return d.emit(ctx, alert)
}

// onSudoCommand fires immediately for risky sudo commands; there is no
// windowing.
func (d *Detector) onSudoCommand(ctx context.Context, ev *core.AuthEvent) error {
	risky := false
	for _, token := range riskyCommandTokens {
		if strings.Contains(ev.Command, token) {
			risky = true
			break
		}
	}
	if !risky {
		return nil
	}

	alert := &core.Alert{
		RuleID:    RuleSudoRiskyCommand,
		Severity:  core.SeverityHigh,
		AgentID:   ev.AgentID,
		Hostname:  ev.Hostname,
		Username:  ev.Username,
		Count:     1,
		FirstSeen: ev.ObservedAt,
		LastSeen:  ev.ObservedAt,
		Evidence:  []core.AuthEvent{*ev},
	}
	return d.emit(ctx, alert)
}

// updateCounter performs the read-modify-write for the bruteforce counter:
// create on first sight, reset to 1 when the stored window has elapsed,
// otherwise increment and accumulate the username. Caller holds the shard
// lock for the key.
func (d *Detector) updateCounter(ctx context.Context, key string, ev *core.AuthEvent) (*core.CounterState, error) {
	windowSeconds := int(d.opts.BruteforceWindow.Seconds())
	now := ev.ObservedAt

	st, err := d.store.GetCounter(ctx, key)
	if err != nil {
		return nil, err
	}

	if st == nil || now.Sub(st.FirstSeen) > d.opts.BruteforceWindow {
		fresh := &core.CounterState{
			Key:           key,
			RuleID:        RuleSSHBruteforceIP,
			Count:         1,
			WindowSeconds: windowSeconds,
			FirstSeen:     now,
			LastSeen:      now,
		}
		if ev.Username != "" {
			fresh.Usernames = []string{ev.Username}
		}
		if st != nil {
			fresh.LastAlertAt = st.LastAlertAt
		}
		if err := d.store.UpsertCounter(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}

	st.Count++
	st.LastSeen = now
	st.WindowSeconds = windowSeconds
	if ev.Username != "" && !contains(st.Usernames, ev.Username) {
		st.Usernames = append(st.Usernames, ev.Username)
	}
	if err := d.store.UpsertCounter(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// emit persists the alert, then hands it to every registered handler with
// panic isolation.
func (d *Detector) emit(ctx context.Context, alert *core.Alert) error {
	if err := d.store.InsertAlert(ctx, alert); err != nil {
		return err
	}
	metrics.AlertsGenerated.WithLabelValues(alert.RuleID, alert.Severity.String()).Inc()
	d.logger.Infow("alert generated",
		"rule_id", alert.RuleID,
		"severity", alert.Severity.String(),
		"hostname", alert.Hostname,
		"src_ip", alert.SrcIP,
		"count", alert.Count)

	d.handlerMu.RLock()
	handlers := d.handlers
	d.handlerMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer goroutine.Recover("alert-handler", d.logger)
			h(alert)
		}()
	}
	return nil
}

func (d *Detector) shardFor(hostname, srcIP string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hostname))
	h.Write([]byte{'|'})
	h.Write([]byte(srcIP))
	return &d.shards[h.Sum32()%lockShards]
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
