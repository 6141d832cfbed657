package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Price is one purchasable plan: key is the invoice payload, stars the
// Telegram Stars amount, days the granted subscription window.
type Price struct {
	Key   string
	Label string
	Days  int
	Stars int
}

// DefaultPrices seeds the price table on first run.
var DefaultPrices = []Price{
	{Key: "1_month", Label: "1 месяц", Days: 30, Stars: 100},
	{Key: "3_months", Label: "3 месяца", Days: 90, Stars: 250},
	{Key: "6_months", Label: "6 месяцев", Days: 180, Stars: 450},
	{Key: "12_months", Label: "12 месяцев", Days: 365, Stars: 800},
}

// SeedPrices inserts the default plans if the table is empty.
func (s *Store) SeedPrices(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prices`).Scan(&n); err != nil {
		return fmt.Errorf("store: count prices: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, p := range DefaultPrices {
		if err := s.SetPrice(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// SetPrice inserts or updates a plan.
func (s *Store) SetPrice(ctx context.Context, p Price) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (key, label, days, stars) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET label = excluded.label, days = excluded.days, stars = excluded.stars`,
		p.Key, p.Label, p.Days, p.Stars)
	if err != nil {
		return fmt.Errorf("store: set price %s: %w", p.Key, err)
	}
	return nil
}

// Price returns one plan by its payload key, or ErrNotFound.
func (s *Store) Price(ctx context.Context, key string) (*Price, error) {
	var p Price
	err := s.db.QueryRowContext(ctx,
		`SELECT key, label, days, stars FROM prices WHERE key = ?`, key).
		Scan(&p.Key, &p.Label, &p.Days, &p.Stars)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query price %s: %w", key, err)
	}
	return &p, nil
}

// ListPrices returns all plans ordered by duration.
func (s *Store) ListPrices(ctx context.Context) ([]Price, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, label, days, stars FROM prices ORDER BY days`)
	if err != nil {
		return nil, fmt.Errorf("store: query prices: %w", err)
	}
	defer rows.Close()

	var out []Price
	for rows.Next() {
		var p Price
		if err := rows.Scan(&p.Key, &p.Label, &p.Days, &p.Stars); err != nil {
			return nil, fmt.Errorf("store: scan price: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate prices: %w", err)
	}
	return out, nil
}
