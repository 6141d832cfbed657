package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PromoCode is an operator-issued code granting subscription days.
// max_uses == 0 means unbounded.
type PromoCode struct {
	Code      string
	GrantDays int
	MaxUses   int
	UsedCount int
}

// NormalizePromo upper-cases a code for case-insensitive lookup.
func NormalizePromo(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreatePromo inserts or replaces a promo code definition.
func (s *Store) CreatePromo(ctx context.Context, p PromoCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promo_codes (code, grant_days, max_uses, used_count)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT(code) DO UPDATE SET grant_days = excluded.grant_days, max_uses = excluded.max_uses`,
		NormalizePromo(p.Code), p.GrantDays, p.MaxUses)
	if err != nil {
		return fmt.Errorf("store: create promo %s: %w", p.Code, err)
	}
	return nil
}

// DeletePromo removes a promo definition (redemption history stays).
func (s *Store) DeletePromo(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM promo_codes WHERE code = ?`, NormalizePromo(code))
	if err != nil {
		return fmt.Errorf("store: delete promo %s: %w", code, err)
	}
	return nil
}

// Promo returns a promo definition, or ErrNotFound.
func (s *Store) Promo(ctx context.Context, code string) (*PromoCode, error) {
	var p PromoCode
	err := s.db.QueryRowContext(ctx,
		`SELECT code, grant_days, max_uses, used_count FROM promo_codes WHERE code = ?`,
		NormalizePromo(code)).
		Scan(&p.Code, &p.GrantDays, &p.MaxUses, &p.UsedCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query promo %s: %w", code, err)
	}
	return &p, nil
}

// ListPromos returns all promo definitions.
func (s *Store) ListPromos(ctx context.Context) ([]PromoCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, grant_days, max_uses, used_count FROM promo_codes ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("store: query promos: %w", err)
	}
	defer rows.Close()

	var out []PromoCode
	for rows.Next() {
		var p PromoCode
		if err := rows.Scan(&p.Code, &p.GrantDays, &p.MaxUses, &p.UsedCount); err != nil {
			return nil, fmt.Errorf("store: scan promo: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate promos: %w", err)
	}
	return out, nil
}

// CheckPromo classifies a redemption attempt without mutating anything:
// ErrInvalidPromo, ErrPromoExhausted, ErrAlreadyRedeemed, or the number
// of days the code would grant.
func (s *Store) CheckPromo(ctx context.Context, code string, tgID int64) (int, error) {
	p, err := s.Promo(ctx, code)
	if err == ErrNotFound {
		return 0, ErrInvalidPromo
	}
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_promos WHERE tg_id = ? AND code = ?`,
		tgID, p.Code).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: check redemption %s: %w", code, err)
	}
	if n > 0 {
		return 0, ErrAlreadyRedeemed
	}
	if p.MaxUses != 0 && p.UsedCount >= p.MaxUses {
		return 0, ErrPromoExhausted
	}
	return p.GrantDays, nil
}

// RedeemPromo records a redemption atomically: the (tg_id, code) pair
// insert and the guarded used_count increment happen in one
// transaction, so two racing redemptions of a one-use code cannot both
// succeed. Returns the granted days.
func (s *Store) RedeemPromo(ctx context.Context, code string, tgID int64, now time.Time) (int, error) {
	norm := NormalizePromo(code)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin redeem tx: %w", err)
	}
	defer tx.Rollback()

	var p PromoCode
	err = tx.QueryRowContext(ctx,
		`SELECT code, grant_days, max_uses, used_count FROM promo_codes WHERE code = ?`, norm).
		Scan(&p.Code, &p.GrantDays, &p.MaxUses, &p.UsedCount)
	if err == sql.ErrNoRows {
		return 0, ErrInvalidPromo
	}
	if err != nil {
		return 0, fmt.Errorf("store: redeem query %s: %w", norm, err)
	}

	var redeemed int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_promos WHERE tg_id = ? AND code = ?`, tgID, norm).
		Scan(&redeemed); err != nil {
		return 0, fmt.Errorf("store: redeem pair query %s: %w", norm, err)
	}
	if redeemed > 0 {
		return 0, ErrAlreadyRedeemed
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE promo_codes SET used_count = used_count + 1
		 WHERE code = ? AND (max_uses = 0 OR used_count < max_uses)`, norm)
	if err != nil {
		return 0, fmt.Errorf("store: redeem increment %s: %w", norm, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: redeem increment %s: %w", norm, err)
	}
	if affected == 0 {
		return 0, ErrPromoExhausted
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_promos (tg_id, code, used_at) VALUES (?, ?, ?)`,
		tgID, norm, now.Unix()); err != nil {
		return 0, fmt.Errorf("store: redeem insert %s: %w", norm, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: redeem commit %s: %w", norm, err)
	}
	return p.GrantDays, nil
}

// UnredeemPromo reverts a redemption: deletes the pair and decrements
// used_count, floored at zero. Returns the days the code granted. Used
// both for operator revocation and as the compensating action when the
// subscription extension fails after RedeemPromo.
func (s *Store) UnredeemPromo(ctx context.Context, code string, tgID int64) (int, error) {
	norm := NormalizePromo(code)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin unredeem tx: %w", err)
	}
	defer tx.Rollback()

	var days int
	err = tx.QueryRowContext(ctx,
		`SELECT grant_days FROM promo_codes WHERE code = ?`, norm).Scan(&days)
	if err == sql.ErrNoRows {
		return 0, ErrInvalidPromo
	}
	if err != nil {
		return 0, fmt.Errorf("store: unredeem query %s: %w", norm, err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM user_promos WHERE tg_id = ? AND code = ?`, tgID, norm)
	if err != nil {
		return 0, fmt.Errorf("store: unredeem delete %s: %w", norm, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: unredeem delete %s: %w", norm, err)
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE promo_codes SET used_count = MAX(used_count - 1, 0) WHERE code = ?`, norm); err != nil {
		return 0, fmt.Errorf("store: unredeem decrement %s: %w", norm, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: unredeem commit %s: %w", norm, err)
	}
	return days, nil
}
