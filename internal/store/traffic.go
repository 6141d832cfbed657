package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Snapshot is one cumulative-counter observation: the proxy's up/down
// totals for an email as of the last hourly tick of the given date
// (YYYY-MM-DD in the operator timezone).
type Snapshot struct {
	Email string
	Date  string
	Up    int64
	Down  int64
}

// UpsertSnapshot overwrites the (email, date) snapshot with the current
// cumulative counters.
func (s *Store) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traffic_history (email, date, up, down) VALUES (?, ?, ?, ?)
		 ON CONFLICT(email, date) DO UPDATE SET up = excluded.up, down = excluded.down`,
		snap.Email, snap.Date, snap.Up, snap.Down)
	if err != nil {
		return fmt.Errorf("store: upsert snapshot %s/%s: %w", snap.Email, snap.Date, err)
	}
	return nil
}

// SnapshotOn returns the snapshot for an exact date, or ErrNotFound.
func (s *Store) SnapshotOn(ctx context.Context, email, date string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT email, date, up, down FROM traffic_history WHERE email = ? AND date = ?`,
		email, date).Scan(&snap.Email, &snap.Date, &snap.Up, &snap.Down)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query snapshot %s/%s: %w", email, date, err)
	}
	return &snap, nil
}

// OldestSnapshotSince returns the oldest snapshot with date >= minDate,
// or ErrNotFound. Dates sort lexicographically in YYYY-MM-DD form.
func (s *Store) OldestSnapshotSince(ctx context.Context, email, minDate string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT email, date, up, down FROM traffic_history
		 WHERE email = ? AND date >= ? ORDER BY date ASC LIMIT 1`,
		email, minDate).Scan(&snap.Email, &snap.Date, &snap.Up, &snap.Down)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query oldest snapshot %s: %w", email, err)
	}
	return &snap, nil
}

// RenameHistory relabels all snapshots of oldEmail to newEmail, so a
// rebind preserves the traffic timeline. Rows that would collide with
// an existing (newEmail, date) snapshot are dropped in favour of the
// existing one.
func (s *Store) RenameHistory(ctx context.Context, oldEmail, newEmail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin rename tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM traffic_history WHERE email = ? AND date IN
		   (SELECT date FROM traffic_history WHERE email = ?)`,
		oldEmail, newEmail); err != nil {
		return fmt.Errorf("store: rename history collisions %s: %w", oldEmail, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE traffic_history SET email = ? WHERE email = ?`, newEmail, oldEmail); err != nil {
		return fmt.Errorf("store: rename history %s -> %s: %w", oldEmail, newEmail, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: rename history commit: %w", err)
	}
	return nil
}

// HistoryEmails returns the distinct emails present in the history
// table, used by the startup consistency check.
func (s *Store) HistoryEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT email FROM traffic_history`)
	if err != nil {
		return nil, fmt.Errorf("store: query history emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("store: scan history email: %w", err)
		}
		out = append(out, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate history emails: %w", err)
	}
	return out, nil
}
