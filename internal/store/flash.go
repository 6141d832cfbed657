package store

import (
	"context"
	"fmt"
	"time"
)

// FlashMessage is an outbound chat message with a bounded lifetime,
// deleted by the reaper once delete_at passes.
type FlashMessage struct {
	ChatID    int64
	MessageID int64
	DeleteAt  int64 // unix seconds
}

// AddFlashMessage records a delivered flash message for later deletion.
func (s *Store) AddFlashMessage(ctx context.Context, m FlashMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flash_messages (chat_id, message_id, delete_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET delete_at = excluded.delete_at`,
		m.ChatID, m.MessageID, m.DeleteAt)
	if err != nil {
		return fmt.Errorf("store: add flash message %d/%d: %w", m.ChatID, m.MessageID, err)
	}
	return nil
}

// DueFlashMessages returns all messages whose lifetime has passed.
func (s *Store) DueFlashMessages(ctx context.Context, now time.Time) ([]FlashMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, delete_at FROM flash_messages WHERE delete_at <= ?`,
		now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: query due flash messages: %w", err)
	}
	defer rows.Close()

	var out []FlashMessage
	for rows.Next() {
		var m FlashMessage
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.DeleteAt); err != nil {
			return nil, fmt.Errorf("store: scan flash message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate flash messages: %w", err)
	}
	return out, nil
}

// RemoveFlashMessage drops a reaped (or permanently undeliverable) row.
func (s *Store) RemoveFlashMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM flash_messages WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("store: remove flash message %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

// RecordFlashDeliveryError notes a recipient the flash broadcast could
// not reach (blocked, deactivated).
func (s *Store) RecordFlashDeliveryError(ctx context.Context, chatID int64, errText string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flash_delivery_errors (chat_id, error, created_at) VALUES (?, ?, ?)`,
		chatID, errText, at.Unix())
	if err != nil {
		return fmt.Errorf("store: record flash delivery error %d: %w", chatID, err)
	}
	return nil
}
