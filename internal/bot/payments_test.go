package bot

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blikh/xui-stars-bot/internal/promo"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/subscription"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

type sentMsg struct {
	chatID int64
	text   string
}

type precheckAnswer struct {
	ok  bool
	msg string
}

type fakeTransport struct {
	sent     []sentMsg
	invoices []string
	answers  []precheckAnswer
}

func (f *fakeTransport) Username() string { return "testbot" }

func (f *fakeTransport) Updates(context.Context) tgbotapi.UpdatesChannel {
	ch := make(chan tgbotapi.Update)
	close(ch)
	return ch
}

func (f *fakeTransport) Send(chatID int64, text string) (int, error) {
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text})
	return len(f.sent), nil
}

func (f *fakeTransport) SendMarkup(chatID int64, text string, _ interface{}) (int, error) {
	return f.Send(chatID, text)
}

func (f *fakeTransport) SendInvoice(_ int64, _, _, payload string, _ int) error {
	f.invoices = append(f.invoices, payload)
	return nil
}

func (f *fakeTransport) AnswerPreCheckout(_ string, ok bool, msg string) error {
	f.answers = append(f.answers, precheckAnswer{ok: ok, msg: msg})
	return nil
}

func (f *fakeTransport) AnswerCallback(string, string) {}

func (f *fakeTransport) CopyMessage(toChatID, _ int64, _ int) (int, error) {
	f.sent = append(f.sent, sentMsg{chatID: toChatID})
	return len(f.sent), nil
}

func (f *fakeTransport) SendDocument(int64, string, string) error { return nil }

func (f *fakeTransport) SetCommands([]tgbotapi.BotCommand) error { return nil }

// sentTo returns all message texts delivered to one chat.
func (f *fakeTransport) sentTo(chatID int64) []string {
	var out []string
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

type applyCall struct {
	tgID int64
	days int
}

type fakeSubs struct {
	applied []applyCall
	expiry  int64
	err     error
}

func (f *fakeSubs) ApplyTime(_ context.Context, tgID int64, days int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.applied = append(f.applied, applyCall{tgID: tgID, days: days})
	return f.expiry, nil
}

func (f *fakeSubs) Rebind(context.Context, string, int64) error { return nil }
func (f *fakeSubs) Delete(context.Context, string) error        { return nil }

func (f *fakeSubs) ClientFor(context.Context, int64) (*xui.Client, error) {
	return nil, xui.ErrClientNotFound
}

func (f *fakeSubs) Clients(context.Context) ([]xui.Client, error) { return nil, nil }

func (f *fakeSubs) RenderArtifacts(context.Context, int64) (*subscription.Artifacts, error) {
	return nil, xui.ErrClientNotFound
}

const testAdminID = 999

func newTestBot(t *testing.T) (*Bot, *fakeTransport, *fakeSubs, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	state, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })
	if err := state.SeedPrices(context.Background()); err != nil {
		t.Fatal(err)
	}

	ft := &fakeTransport{}
	fs := &fakeSubs{expiry: time.Date(2026, 9, 28, 12, 0, 0, 0, time.UTC).UnixMilli()}
	promos := promo.New(state, fs, logger)

	b := New(ft, state, fs, promos, nil, nil, Config{
		AdminID:      testAdminID,
		TrialDays:    3,
		RefBonusDays: 7,
		CashbackPct:  10,
	}, time.UTC, logger)
	b.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	return b, ft, fs, state
}

func paymentMessage(tgID int64, payload string, stars int) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: tgID, UserName: "payer"},
		Chat: &tgbotapi.Chat{ID: tgID},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{
			Currency:       "XTR",
			TotalAmount:    stars,
			InvoicePayload: payload,
		},
	}
}

func TestSuccessfulPaymentRecordsThenExtends(t *testing.T) {
	b, ft, fs, state := newTestBot(t)
	ctx := context.Background()
	if _, _, err := state.EnsureUser(ctx, 111, "payer", "", ""); err != nil {
		t.Fatal(err)
	}

	b.handleSuccessfulPayment(ctx, paymentMessage(111, "1_month", 100))

	txs, err := state.TransactionsFor(ctx, 111)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].Amount != 100 || txs[0].PlanID != "1_month" {
		t.Fatalf("transactions: %+v", txs)
	}
	if len(fs.applied) != 1 || fs.applied[0] != (applyCall{tgID: 111, days: 30}) {
		t.Fatalf("applied: %+v", fs.applied)
	}
	msgs := ft.sentTo(111)
	if len(msgs) == 0 || !strings.Contains(msgs[0], "Оплата получена") {
		t.Fatalf("confirmation: %v", msgs)
	}
}

func TestSuccessfulPaymentUnknownPlanNeverExtends(t *testing.T) {
	b, ft, fs, state := newTestBot(t)
	ctx := context.Background()
	if _, _, err := state.EnsureUser(ctx, 111, "payer", "", ""); err != nil {
		t.Fatal(err)
	}

	b.handleSuccessfulPayment(ctx, paymentMessage(111, "ghost_plan", 500))

	// The payment is still on record for manual reconciliation.
	txs, err := state.TransactionsFor(ctx, 111)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].Amount != 500 || txs[0].PlanID != "ghost_plan" {
		t.Fatalf("transactions: %+v", txs)
	}
	if len(fs.applied) != 0 {
		t.Fatalf("subscription extended on unknown plan: %+v", fs.applied)
	}
	admin := ft.sentTo(testAdminID)
	if len(admin) != 1 || !strings.Contains(admin[0], "ghost_plan") {
		t.Fatalf("operator not escalated: %v", admin)
	}
	if len(ft.sentTo(111)) == 0 {
		t.Fatal("payer left without a reply")
	}
}

func TestSuccessfulPaymentExtendFailureEscalates(t *testing.T) {
	b, ft, fs, state := newTestBot(t)
	ctx := context.Background()
	if _, _, err := state.EnsureUser(ctx, 111, "payer", "", ""); err != nil {
		t.Fatal(err)
	}
	fs.err = errors.New("x-ui restart failed")

	b.handleSuccessfulPayment(ctx, paymentMessage(111, "1_month", 100))

	txs, err := state.TransactionsFor(ctx, 111)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("transactions: %+v", txs)
	}
	admin := ft.sentTo(testAdminID)
	if len(admin) != 1 || !strings.Contains(admin[0], "не применилось") {
		t.Fatalf("operator not escalated: %v", admin)
	}
}

func TestSuccessfulPaymentPaysReferral(t *testing.T) {
	b, _, fs, state := newTestBot(t)
	ctx := context.Background()
	for _, id := range []int64{111, 222} {
		if _, _, err := state.EnsureUser(ctx, id, "", "", ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := state.SetReferrer(ctx, 111, 222); err != nil {
		t.Fatal(err)
	}

	b.handleSuccessfulPayment(ctx, paymentMessage(111, "3_months", 250))

	want := []applyCall{{tgID: 111, days: 90}, {tgID: 222, days: 7}}
	if len(fs.applied) != 2 || fs.applied[0] != want[0] || fs.applied[1] != want[1] {
		t.Fatalf("applied: %+v", fs.applied)
	}
	ref, err := state.User(ctx, 222)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Balance != 25 {
		t.Fatalf("cashback: %d", ref.Balance)
	}
}

func TestPreCheckoutApprovesOnlyKnownPlans(t *testing.T) {
	b, ft, _, _ := newTestBot(t)
	ctx := context.Background()

	query := func(payload string) *tgbotapi.PreCheckoutQuery {
		return &tgbotapi.PreCheckoutQuery{
			ID:             "q-" + payload,
			From:           &tgbotapi.User{ID: 111},
			InvoicePayload: payload,
		}
	}

	b.handlePreCheckout(ctx, query("1_month"))
	b.handlePreCheckout(ctx, query("ghost_plan"))

	if len(ft.answers) != 2 {
		t.Fatalf("answers: %+v", ft.answers)
	}
	if !ft.answers[0].ok {
		t.Fatal("known plan rejected")
	}
	if ft.answers[1].ok || ft.answers[1].msg == "" {
		t.Fatalf("unknown plan approved: %+v", ft.answers[1])
	}
}

func TestTrialIsOneShot(t *testing.T) {
	b, ft, fs, state := newTestBot(t)
	ctx := context.Background()
	if _, _, err := state.EnsureUser(ctx, 111, "", "", ""); err != nil {
		t.Fatal(err)
	}

	b.handleTrial(ctx, 111, 111)
	if len(fs.applied) != 1 || fs.applied[0] != (applyCall{tgID: 111, days: 3}) {
		t.Fatalf("applied: %+v", fs.applied)
	}
	u, err := state.User(ctx, 111)
	if err != nil {
		t.Fatal(err)
	}
	if !u.TrialUsed {
		t.Fatal("trial not marked used")
	}

	b.handleTrial(ctx, 111, 111)
	if len(fs.applied) != 1 {
		t.Fatalf("trial granted twice: %+v", fs.applied)
	}
	msgs := ft.sentTo(111)
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1], "уже был активирован") {
		t.Fatalf("second attempt reply: %v", msgs)
	}
}
