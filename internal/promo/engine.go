// Package promo grants subscription time from promo codes and referral
// rewards, keeping the bookkeeping in the engine store and the actual
// time grants in the subscription manager.
package promo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
)

// TimeApplier grants (or revokes, with negative days) subscription time.
type TimeApplier interface {
	ApplyTime(ctx context.Context, tgID int64, days int) (int64, error)
}

// Engine couples promo bookkeeping with subscription time grants.
type Engine struct {
	state  *store.Store
	subs   TimeApplier
	logger *slog.Logger
	now    func() time.Time
}

func New(state *store.Store, subs TimeApplier, logger *slog.Logger) *Engine {
	return &Engine{state: state, subs: subs, logger: logger, now: time.Now}
}

// Check reports how many days the code would grant to tgID without
// consuming anything. Returns store.ErrInvalidPromo,
// store.ErrAlreadyRedeemed or store.ErrPromoExhausted when it would not
// apply.
func (e *Engine) Check(ctx context.Context, code string, tgID int64) (int, error) {
	return e.state.CheckPromo(ctx, code, tgID)
}

// Redeem consumes the code for tgID and grants its days. The use count
// is reserved first; if the time grant then fails, the reservation is
// compensated so the code can be retried.
func (e *Engine) Redeem(ctx context.Context, code string, tgID int64) (days int, newExpiry int64, err error) {
	days, err = e.state.RedeemPromo(ctx, code, tgID, e.now())
	if err != nil {
		return 0, 0, err
	}

	newExpiry, err = e.subs.ApplyTime(ctx, tgID, days)
	if err != nil {
		if _, uerr := e.state.UnredeemPromo(ctx, code, tgID); uerr != nil {
			e.logger.Error("promo compensation failed",
				"code", code, "tgId", tgID, "err", uerr)
		}
		return 0, 0, fmt.Errorf("promo: granting time for %s: %w", code, err)
	}

	metrics.PromoRedemptionsTotal.Inc()
	e.logger.Info("promo redeemed", "code", code, "tgId", tgID, "days", days)
	return days, newExpiry, nil
}

// Revoke undoes a past redemption: the pair record is removed, the use
// count is decremented and the granted days are subtracted.
func (e *Engine) Revoke(ctx context.Context, code string, tgID int64) error {
	days, err := e.state.UnredeemPromo(ctx, code, tgID)
	if err != nil {
		return err
	}
	if days == 0 {
		return nil
	}
	if _, err := e.subs.ApplyTime(ctx, tgID, -days); err != nil {
		return fmt.Errorf("promo: revoking time for %s: %w", code, err)
	}
	return nil
}

// ReferralReward is what a referrer receives for one referee payment.
type ReferralReward struct {
	ReferrerID  int64
	StarsCredit int64
	BonusDays   int
}

// PayReferral rewards the referrer of payerID for a payment of stars:
// a percentage cashback credited to the balance and a fixed extension
// of the referrer's own subscription. Returns nil reward when the payer
// has no referrer.
func (e *Engine) PayReferral(ctx context.Context, payerID, stars int64, bonusDays, cashbackPct int) (*ReferralReward, error) {
	payer, err := e.state.User(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if payer.ReferrerID == 0 {
		return nil, nil
	}

	credit := (stars*int64(cashbackPct) + 50) / 100
	if credit > 0 {
		if err := e.state.AddBalance(ctx, payer.ReferrerID, credit); err != nil {
			return nil, err
		}
	}
	if bonusDays > 0 {
		if _, err := e.subs.ApplyTime(ctx, payer.ReferrerID, bonusDays); err != nil {
			return nil, fmt.Errorf("promo: referral bonus for %d: %w", payer.ReferrerID, err)
		}
	}

	reward := &ReferralReward{
		ReferrerID:  payer.ReferrerID,
		StarsCredit: credit,
		BonusDays:   bonusDays,
	}
	if err := e.state.AddReferralBonus(ctx, store.ReferralBonus{
		ReferrerID:  reward.ReferrerID,
		RefereeID:   payerID,
		StarsCredit: credit,
		BonusDays:   bonusDays,
	}, e.now()); err != nil {
		return nil, err
	}

	e.logger.Info("referral reward paid",
		"referrer", reward.ReferrerID, "referee", payerID,
		"stars", credit, "days", bonusDays)
	return reward, nil
}
