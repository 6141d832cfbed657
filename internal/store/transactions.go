package store

import (
	"context"
	"fmt"
	"time"
)

// Transaction is one append-only payment record (amount in Stars).
type Transaction struct {
	ID     int64
	TgID   int64
	Amount int64
	Date   int64 // unix seconds
	PlanID string
}

// AddTransaction appends a payment record.
func (s *Store) AddTransaction(ctx context.Context, t Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (tg_id, amount, date, plan_id) VALUES (?, ?, ?, ?)`,
		t.TgID, t.Amount, t.Date, t.PlanID)
	if err != nil {
		return fmt.Errorf("store: add transaction %d: %w", t.TgID, err)
	}
	return nil
}

// TransactionsFor returns a user's payments, newest first.
func (s *Store) TransactionsFor(ctx context.Context, tgID int64) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tg_id, amount, date, plan_id FROM transactions
		 WHERE tg_id = ? ORDER BY date DESC`, tgID)
	if err != nil {
		return nil, fmt.Errorf("store: query transactions %d: %w", tgID, err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.TgID, &t.Amount, &t.Date, &t.PlanID); err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate transactions: %w", err)
	}
	return out, nil
}

// RevenueTotal returns the sum of all recorded payments in Stars.
func (s *Store) RevenueTotal(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions`).Scan(&total); err != nil {
		return 0, fmt.Errorf("store: revenue total: %w", err)
	}
	return total, nil
}

// ReferralBonus records one paid-out referral reward.
type ReferralBonus struct {
	ReferrerID  int64
	RefereeID   int64
	StarsCredit int64
	BonusDays   int
}

// AddReferralBonus appends a referral payout record.
func (s *Store) AddReferralBonus(ctx context.Context, b ReferralBonus, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO referral_bonuses (referrer_id, referee_id, stars_credit, bonus_days, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.ReferrerID, b.RefereeID, b.StarsCredit, b.BonusDays, at.Unix())
	if err != nil {
		return fmt.Errorf("store: add referral bonus %d: %w", b.ReferrerID, err)
	}
	return nil
}
