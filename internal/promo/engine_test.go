package promo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/blikh/xui-stars-bot/internal/store"
)

type fakeApplier struct {
	calls []int // days per call, in order
	err   error
}

func (f *fakeApplier) ApplyTime(_ context.Context, _ int64, days int) (int64, error) {
	f.calls = append(f.calls, days)
	if f.err != nil {
		return 0, f.err
	}
	return 1_800_000_000_000, nil
}

func newEngine(t *testing.T) (*Engine, *store.Store, *fakeApplier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	applier := &fakeApplier{}
	return New(s, applier, logger), s, applier
}

func TestRedeemGrantsDays(t *testing.T) {
	e, s, applier := newEngine(t)
	ctx := context.Background()

	if err := s.CreatePromo(ctx, store.PromoCode{Code: "WELCOME", GrantDays: 7, MaxUses: 1}); err != nil {
		t.Fatal(err)
	}
	days, expiry, err := e.Redeem(ctx, "welcome", 111)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if days != 7 || expiry == 0 {
		t.Fatalf("days=%d expiry=%d", days, expiry)
	}
	if len(applier.calls) != 1 || applier.calls[0] != 7 {
		t.Fatalf("applier calls: %v", applier.calls)
	}

	// Second attempt by the same user fails.
	if _, _, err := e.Redeem(ctx, "WELCOME", 111); !errors.Is(err, store.ErrAlreadyRedeemed) {
		t.Fatalf("want ErrAlreadyRedeemed, got %v", err)
	}
	// The single use is consumed, another user gets exhausted.
	if _, _, err := e.Redeem(ctx, "WELCOME", 222); !errors.Is(err, store.ErrPromoExhausted) {
		t.Fatalf("want ErrPromoExhausted, got %v", err)
	}
}

func TestRedeemCompensatesOnGrantFailure(t *testing.T) {
	e, s, applier := newEngine(t)
	ctx := context.Background()

	if err := s.CreatePromo(ctx, store.PromoCode{Code: "RETRY", GrantDays: 3, MaxUses: 1}); err != nil {
		t.Fatal(err)
	}
	applier.err = errors.New("panel down")
	if _, _, err := e.Redeem(ctx, "RETRY", 111); err == nil {
		t.Fatal("expected error")
	}

	// The reservation was rolled back, a retry succeeds.
	applier.err = nil
	if _, _, err := e.Redeem(ctx, "RETRY", 111); err != nil {
		t.Fatalf("retry after compensation: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	e, s, applier := newEngine(t)
	ctx := context.Background()

	if err := s.CreatePromo(ctx, store.PromoCode{Code: "GIFT", GrantDays: 10, MaxUses: 0}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Redeem(ctx, "GIFT", 111); err != nil {
		t.Fatal(err)
	}
	if err := e.Revoke(ctx, "GIFT", 111); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if want := []int{10, -10}; len(applier.calls) != 2 || applier.calls[1] != want[1] {
		t.Fatalf("applier calls: %v", applier.calls)
	}
	// The use count was returned, so the user can redeem again.
	if _, _, err := e.Redeem(ctx, "GIFT", 111); err != nil {
		t.Fatalf("redeem after revoke: %v", err)
	}
}

func TestPayReferral(t *testing.T) {
	e, s, applier := newEngine(t)
	ctx := context.Background()

	if _, _, err := s.EnsureUser(ctx, 100, "ref", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.EnsureUser(ctx, 200, "payer", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReferrer(ctx, 200, 100); err != nil {
		t.Fatal(err)
	}

	reward, err := e.PayReferral(ctx, 200, 250, 7, 10)
	if err != nil {
		t.Fatalf("PayReferral: %v", err)
	}
	if reward == nil || reward.ReferrerID != 100 || reward.StarsCredit != 25 || reward.BonusDays != 7 {
		t.Fatalf("reward: %+v", reward)
	}
	if len(applier.calls) != 1 || applier.calls[0] != 7 {
		t.Fatalf("applier calls: %v", applier.calls)
	}

	u, err := s.User(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if u.Balance != 25 {
		t.Fatalf("balance: %d", u.Balance)
	}
}

func TestPayReferralNoReferrer(t *testing.T) {
	e, s, applier := newEngine(t)
	ctx := context.Background()

	if _, _, err := s.EnsureUser(ctx, 300, "solo", "", ""); err != nil {
		t.Fatal(err)
	}
	reward, err := e.PayReferral(ctx, 300, 100, 7, 10)
	if err != nil || reward != nil {
		t.Fatalf("reward=%+v err=%v", reward, err)
	}
	if len(applier.calls) != 0 {
		t.Fatalf("unexpected time grant: %v", applier.calls)
	}
}
