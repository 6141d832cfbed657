package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SupportTicket is one inbound support message awaiting an operator.
type SupportTicket struct {
	ID        int64
	TgID      int64
	Message   string
	Status    string // "open" or "closed"
	CreatedAt int64
}

// AddTicket stores a support message and returns its id.
func (s *Store) AddTicket(ctx context.Context, tgID int64, message string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO support_tickets (tg_id, message, created_at) VALUES (?, ?, ?)`,
		tgID, message, at.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: add ticket %d: %w", tgID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: add ticket id: %w", err)
	}
	return id, nil
}

// OpenTickets returns unanswered tickets, oldest first.
func (s *Store) OpenTickets(ctx context.Context) ([]SupportTicket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tg_id, message, status, created_at FROM support_tickets
		 WHERE status = 'open' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query tickets: %w", err)
	}
	defer rows.Close()

	var out []SupportTicket
	for rows.Next() {
		var t SupportTicket
		if err := rows.Scan(&t.ID, &t.TgID, &t.Message, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan ticket: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate tickets: %w", err)
	}
	return out, nil
}

// CloseTicket marks a ticket answered.
func (s *Store) CloseTicket(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE support_tickets SET status = 'closed' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: close ticket %d: %w", id, err)
	}
	return nil
}

// modernc/sqlite surfaces constraint failures as formatted errors; the
// driver does not export a stable error type for them.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
