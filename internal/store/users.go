package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UserPref is the engine-side record for one Telegram user.
type UserPref struct {
	TgID             int64
	Language         string
	TrialUsed        bool
	TrialActivatedAt int64 // unix seconds, 0 = never
	ReferrerID       int64
	Username         string
	FirstName        string
	LastName         string
	Balance          int64 // platform credits (Stars)
	CreatedAt        int64
}

// EnsureUser creates the preference row lazily on first interaction and
// refreshes the cached nickname fields. It reports whether the cached
// names actually changed, so callers can skip no-diff syncs.
func (s *Store) EnsureUser(ctx context.Context, tgID int64, username, firstName, lastName string) (*UserPref, bool, error) {
	u, err := s.User(ctx, tgID)
	switch {
	case err == nil:
		if u.Username == username && u.FirstName == firstName && u.LastName == lastName {
			return u, false, nil
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE user_prefs SET username = ?, first_name = ?, last_name = ? WHERE tg_id = ?`,
			username, firstName, lastName, tgID)
		if err != nil {
			return nil, false, fmt.Errorf("store: sync user %d: %w", tgID, err)
		}
		u.Username, u.FirstName, u.LastName = username, firstName, lastName
		return u, true, nil
	case errors.Is(err, ErrNotFound):
		now := time.Now().Unix()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_prefs (tg_id, username, first_name, last_name, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			tgID, username, firstName, lastName, now)
		if err != nil {
			return nil, false, fmt.Errorf("store: create user %d: %w", tgID, err)
		}
		return &UserPref{
			TgID: tgID, Language: "ru",
			Username: username, FirstName: firstName, LastName: lastName,
			CreatedAt: now,
		}, true, nil
	default:
		return nil, false, err
	}
}

// User returns the preference row for tgID, or ErrNotFound.
func (s *Store) User(ctx context.Context, tgID int64) (*UserPref, error) {
	var u UserPref
	err := s.db.QueryRowContext(ctx,
		`SELECT tg_id, language, trial_used, trial_activated_at, referrer_id,
		        username, first_name, last_name, balance, created_at
		 FROM user_prefs WHERE tg_id = ?`, tgID).
		Scan(&u.TgID, &u.Language, &u.TrialUsed, &u.TrialActivatedAt, &u.ReferrerID,
			&u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query user %d: %w", tgID, err)
	}
	return &u, nil
}

// SetLanguage stores the user's language. Setting the same language
// twice is a no-op.
func (s *Store) SetLanguage(ctx context.Context, tgID int64, lang string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_prefs SET language = ? WHERE tg_id = ? AND language <> ?`,
		lang, tgID, lang)
	if err != nil {
		return fmt.Errorf("store: set language %d: %w", tgID, err)
	}
	return nil
}

// MarkTrialUsed flags the one-shot trial as consumed at the given time.
func (s *Store) MarkTrialUsed(ctx context.Context, tgID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_prefs SET trial_used = 1, trial_activated_at = ? WHERE tg_id = ?`,
		at.Unix(), tgID)
	if err != nil {
		return fmt.Errorf("store: mark trial %d: %w", tgID, err)
	}
	return nil
}

// SetReferrer writes referrer_id first-touch: it never overwrites an
// existing referrer and never lets a user refer themselves.
func (s *Store) SetReferrer(ctx context.Context, tgID, referrerID int64) error {
	if tgID == referrerID {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_prefs SET referrer_id = ? WHERE tg_id = ? AND referrer_id = 0`,
		referrerID, tgID)
	if err != nil {
		return fmt.Errorf("store: set referrer %d: %w", tgID, err)
	}
	return nil
}

// AddBalance credits (or debits, with a negative amount) the user's
// platform-credit balance.
func (s *Store) AddBalance(ctx context.Context, tgID, amount int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_prefs SET balance = balance + ? WHERE tg_id = ?`, amount, tgID)
	if err != nil {
		return fmt.Errorf("store: add balance %d: %w", tgID, err)
	}
	return nil
}

// UserIDs returns all known Telegram user ids, used for broadcasts.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tg_id FROM user_prefs ORDER BY tg_id`)
	if err != nil {
		return nil, fmt.Errorf("store: query user ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan user id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate user ids: %w", err)
	}
	return out, nil
}

// SearchUsers matches by id, username or name fragments for the
// operator console.
func (s *Store) SearchUsers(ctx context.Context, query string) ([]UserPref, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT tg_id, language, trial_used, trial_activated_at, referrer_id,
		        username, first_name, last_name, balance, created_at
		 FROM user_prefs
		 WHERE CAST(tg_id AS TEXT) LIKE ? OR username LIKE ? OR first_name LIKE ? OR last_name LIKE ?
		 ORDER BY tg_id LIMIT 50`, like, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("store: search users: %w", err)
	}
	defer rows.Close()

	var out []UserPref
	for rows.Next() {
		var u UserPref
		if err := rows.Scan(&u.TgID, &u.Language, &u.TrialUsed, &u.TrialActivatedAt, &u.ReferrerID,
			&u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate users: %w", err)
	}
	return out, nil
}

// CountUsers returns the number of known users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_prefs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count users: %w", err)
	}
	return n, nil
}
