package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Poll is an operator-created poll with an ordered option list.
type Poll struct {
	ID        int64
	Question  string
	Options   []string
	CreatedAt int64
}

// CreatePoll stores a poll and returns its id.
func (s *Store) CreatePoll(ctx context.Context, question string, options []string, at time.Time) (int64, error) {
	encoded, err := json.Marshal(options)
	if err != nil {
		return 0, fmt.Errorf("store: encode poll options: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO polls (question, options, created_at) VALUES (?, ?, ?)`,
		question, string(encoded), at.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: create poll: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create poll id: %w", err)
	}
	return id, nil
}

// Poll returns one poll by id, or ErrNotFound.
func (s *Store) Poll(ctx context.Context, id int64) (*Poll, error) {
	var (
		p       Poll
		encoded string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question, options, created_at FROM polls WHERE id = ?`, id).
		Scan(&p.ID, &p.Question, &encoded, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query poll %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(encoded), &p.Options); err != nil {
		return nil, fmt.Errorf("store: decode poll %d options: %w", id, err)
	}
	return &p, nil
}

// ListPolls returns all polls, newest first.
func (s *Store) ListPolls(ctx context.Context) ([]Poll, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, options, created_at FROM polls ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: query polls: %w", err)
	}
	defer rows.Close()

	var out []Poll
	for rows.Next() {
		var (
			p       Poll
			encoded string
		)
		if err := rows.Scan(&p.ID, &p.Question, &encoded, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan poll: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &p.Options); err != nil {
			return nil, fmt.Errorf("store: decode poll %d options: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate polls: %w", err)
	}
	return out, nil
}

// Vote records a single vote per (poll, user); a second vote returns
// ErrAlreadyVoted.
func (s *Store) Vote(ctx context.Context, pollID, tgID int64, optionIdx int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_votes (poll_id, tg_id, option_idx) VALUES (?, ?, ?)`,
		pollID, tgID, optionIdx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("store: vote poll %d: %w", pollID, err)
	}
	return nil
}

// PollResults returns vote counts aligned with the poll's option list.
func (s *Store) PollResults(ctx context.Context, pollID int64) ([]int64, error) {
	p, err := s.Poll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, len(p.Options))

	rows, err := s.db.QueryContext(ctx,
		`SELECT option_idx, COUNT(*) FROM poll_votes WHERE poll_id = ? GROUP BY option_idx`, pollID)
	if err != nil {
		return nil, fmt.Errorf("store: query poll results %d: %w", pollID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var n int64
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, fmt.Errorf("store: scan poll result: %w", err)
		}
		if idx >= 0 && idx < len(counts) {
			counts[idx] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate poll results: %w", err)
	}
	return counts, nil
}
