package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
)

// timeFormat is the column encoding for timestamps: fixed-width RFC 3339
// with nanoseconds, always UTC. Fixed width keeps lexicographic column
// ordering equal to chronological ordering; RFC3339Nano trims trailing
// zeros and does not sort correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// InsertAuthEvent appends one parsed auth event. The event's ID and
// CreatedAt are filled in on success.
func (s *Store) InsertAuthEvent(ctx context.Context, ev *core.AuthEvent) error {
	ev.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_events (agent_id, hostname, event_kind, src_ip, username, auth_method, command, message, observed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.AgentID, ev.Hostname, string(ev.Kind), ev.SrcIP, ev.Username,
		ev.AuthMethod, ev.Command, ev.Message,
		encodeTime(ev.ObservedAt), encodeTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// RecentEvidence returns up to limit auth events for (hostname, srcIP) of
// the given kind observed at or after since, newest first.
func (s *Store) RecentEvidence(ctx context.Context, hostname, srcIP string, kind core.AuthEventKind, since time.Time, limit int) ([]core.AuthEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, hostname, event_kind, src_ip, username, auth_method, command, message, observed_at, created_at
		FROM auth_events
		WHERE hostname = ? AND src_ip = ? AND event_kind = ? AND observed_at >= ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?`,
		hostname, srcIP, string(kind), encodeTime(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var events []core.AuthEvent
	for rows.Next() {
		var ev core.AuthEvent
		var kindStr, observedAt, createdAt string
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.Hostname, &kindStr, &ev.SrcIP,
			&ev.Username, &ev.AuthMethod, &ev.Command, &ev.Message, &observedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		ev.Kind = core.AuthEventKind(kindStr)
		ev.ObservedAt = decodeTime(observedAt)
		ev.CreatedAt = decodeTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetCounter fetches the counter state for key, or nil when no row exists.
func (s *Store) GetCounter(ctx context.Context, key string) (*core.CounterState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, rule_id, count, window_seconds, first_seen, last_seen, users_json, last_alert_at
		FROM state WHERE key = ?`, key)

	var st core.CounterState
	var firstSeen, lastSeen, usersJSON string
	var lastAlertAt sql.NullString
	err := row.Scan(&st.Key, &st.RuleID, &st.Count, &st.WindowSeconds,
		&firstSeen, &lastSeen, &usersJSON, &lastAlertAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read counter state %s: %w", key, err)
	}

	st.FirstSeen = decodeTime(firstSeen)
	st.LastSeen = decodeTime(lastSeen)
	if err := json.Unmarshal([]byte(usersJSON), &st.Usernames); err != nil {
		st.Usernames = nil
	}
	if lastAlertAt.Valid {
		t := decodeTime(lastAlertAt.String)
		st.LastAlertAt = &t
	}
	return &st, nil
}

// UpsertCounter writes the full counter state for its key. A failure here
// is surfaced as ErrCounterPersist: the counter is the authority for
// windowing and must not be lost silently.
func (s *Store) UpsertCounter(ctx context.Context, st *core.CounterState) error {
	usersJSON, err := json.Marshal(st.Usernames)
	if err != nil {
		return fmt.Errorf("%w: encode usernames: %v", ErrCounterPersist, err)
	}
	var lastAlertAt interface{}
	if st.LastAlertAt != nil {
		lastAlertAt = encodeTime(*st.LastAlertAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (key, rule_id, count, window_seconds, first_seen, last_seen, users_json, last_alert_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			rule_id = excluded.rule_id,
			count = excluded.count,
			window_seconds = excluded.window_seconds,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			users_json = excluded.users_json,
			last_alert_at = excluded.last_alert_at`,
		st.Key, st.RuleID, st.Count, st.WindowSeconds,
		encodeTime(st.FirstSeen), encodeTime(st.LastSeen), string(usersJSON), lastAlertAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCounterPersist, err)
	}
	return nil
}

// InsertAlert appends one alert with its evidence serialized as JSON.
func (s *Store) InsertAlert(ctx context.Context, alert *core.Alert) error {
	evidenceJSON, err := json.Marshal(alert.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode alert evidence: %w", err)
	}
	alert.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (rule_id, severity, agent_id, hostname, src_ip, username, count, window_seconds, first_seen, last_seen, evidence_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.RuleID, alert.Severity.String(), alert.AgentID, alert.Hostname,
		alert.SrcIP, alert.Username, alert.Count, alert.WindowSeconds,
		encodeTime(alert.FirstSeen), encodeTime(alert.LastSeen),
		string(evidenceJSON), encodeTime(alert.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		alert.ID = id
	}
	return nil
}

// ListAlerts returns persisted alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, limit, offset int) ([]core.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, severity, agent_id, hostname, src_ip, username, count, window_seconds, first_seen, last_seen, evidence_json, created_at
		FROM alerts
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []core.Alert
	for rows.Next() {
		var a core.Alert
		var severity, firstSeen, lastSeen, evidenceJSON, createdAt string
		if err := rows.Scan(&a.ID, &a.RuleID, &severity, &a.AgentID, &a.Hostname,
			&a.SrcIP, &a.Username, &a.Count, &a.WindowSeconds,
			&firstSeen, &lastSeen, &evidenceJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = core.ParseSeverity(severity)
		a.FirstSeen = decodeTime(firstSeen)
		a.LastSeen = decodeTime(lastSeen)
		a.CreatedAt = decodeTime(createdAt)
		if err := json.Unmarshal([]byte(evidenceJSON), &a.Evidence); err != nil {
			s.logger.Warnw("failed to decode alert evidence", "alert_id", a.ID, "error", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertCount returns the total number of persisted alerts.
func (s *Store) AlertCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}
