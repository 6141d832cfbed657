package store

import (
	"context"
	"fmt"
	"time"
)

// ConnectionEvent is one accepted-connection line from the proxy's
// access log, geolocated.
type ConnectionEvent struct {
	Email       string
	IP          string
	Timestamp   int64 // unix seconds
	CountryCode string
}

// SuspiciousEvent is an aggregated multi-IP detection for one client.
type SuspiciousEvent struct {
	Email    string
	IPs      string // formatted distinct-IP set with country flags
	LastSeen int64
	Count    int64
}

// InsertConnectionEvent appends one log-derived connection row.
func (s *Store) InsertConnectionEvent(ctx context.Context, e ConnectionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_logs (email, ip, ts, country_code) VALUES (?, ?, ?, ?)`,
		e.Email, e.IP, e.Timestamp, e.CountryCode)
	if err != nil {
		return fmt.Errorf("store: insert connection event %s: %w", e.Email, err)
	}
	return nil
}

// ConnectionEventsSince returns events with ts >= since, oldest first.
func (s *Store) ConnectionEventsSince(ctx context.Context, since time.Time) ([]ConnectionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, ip, ts, country_code FROM connection_logs WHERE ts >= ? ORDER BY ts ASC`,
		since.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: query connection events: %w", err)
	}
	defer rows.Close()

	var out []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.Email, &e.IP, &e.Timestamp, &e.CountryCode); err != nil {
			return nil, fmt.Errorf("store: scan connection event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate connection events: %w", err)
	}
	return out, nil
}

// PruneConnectionEvents deletes events older than the cutoff.
func (s *Store) PruneConnectionEvents(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM connection_logs WHERE ts < ?`, before.Unix())
	if err != nil {
		return fmt.Errorf("store: prune connection events: %w", err)
	}
	return nil
}

// UpsertSuspiciousEvent records (or refreshes) a detection: the ip set
// and last_seen are replaced, count is incremented.
func (s *Store) UpsertSuspiciousEvent(ctx context.Context, email, ips string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suspicious_events (email, ips, last_seen, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(email) DO UPDATE SET
		   ips = excluded.ips, last_seen = excluded.last_seen, count = count + 1`,
		email, ips, lastSeen.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert suspicious event %s: %w", email, err)
	}
	return nil
}

// SuspiciousEventsSince returns detections fresh enough for the
// operator view (last_seen >= since).
func (s *Store) SuspiciousEventsSince(ctx context.Context, since time.Time) ([]SuspiciousEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, ips, last_seen, count FROM suspicious_events
		 WHERE last_seen >= ? ORDER BY last_seen DESC`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: query suspicious events: %w", err)
	}
	defer rows.Close()

	var out []SuspiciousEvent
	for rows.Next() {
		var e SuspiciousEvent
		if err := rows.Scan(&e.Email, &e.IPs, &e.LastSeen, &e.Count); err != nil {
			return nil, fmt.Errorf("store: scan suspicious event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate suspicious events: %w", err)
	}
	return out, nil
}

// PruneSuspiciousEvents drops detections not seen since the cutoff.
func (s *Store) PruneSuspiciousEvents(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM suspicious_events WHERE last_seen < ?`, before.Unix())
	if err != nil {
		return fmt.Errorf("store: prune suspicious events: %w", err)
	}
	return nil
}
