package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
)

func (b *Bot) sendPlanInvoice(ctx context.Context, chatID int64, planKey string) {
	p, err := b.state.Price(ctx, planKey)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(chatID, "Этот тариф больше не продаётся.", backKeyboard("menu_buy"))
		return
	}
	if err != nil {
		b.replyError(chatID, "loading price", err)
		return
	}

	b.sessions.get(chatID).pendingPlanID = p.Key
	desc := fmt.Sprintf("Доступ к VPN на %d дн.", p.Days)
	if err := b.transport.SendInvoice(chatID, p.Label, desc, p.Key, p.Stars); err != nil {
		b.replyError(chatID, "sending invoice", err)
	}
}

// handlePreCheckout approves the payment iff the payload still matches
// a known price row. The panel is intentionally not touched here.
func (b *Bot) handlePreCheckout(ctx context.Context, pcq *tgbotapi.PreCheckoutQuery) {
	_, err := b.state.Price(ctx, pcq.InvoicePayload)
	ok := err == nil
	msg := ""
	if !ok {
		msg = "Тариф устарел, откройте список тарифов заново."
		b.logger.Warn("pre-checkout for unknown plan",
			"payload", pcq.InvoicePayload, "tgId", pcq.From.ID)
	}
	if err := b.transport.AnswerPreCheckout(pcq.ID, ok, msg); err != nil {
		b.logger.Error("answering pre-checkout", "err", err)
	}
}

// handleSuccessfulPayment is the money path: record first, then extend.
// A payment whose payload no longer matches a price is recorded and
// escalated but never silently converted into some other plan.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	pay := msg.SuccessfulPayment
	chatID := msg.Chat.ID
	tgID := msg.From.ID

	if err := b.state.AddTransaction(ctx, store.Transaction{
		TgID:   tgID,
		Amount: int64(pay.TotalAmount),
		Date:   b.now().Unix(),
		PlanID: pay.InvoicePayload,
	}); err != nil {
		b.logger.Error("recording transaction", "tgId", tgID, "err", err)
	}

	p, err := b.state.Price(ctx, pay.InvoicePayload)
	if err != nil {
		b.paymentMismatch(chatID, tgID, pay)
		return
	}

	metrics.PaymentsTotal.Inc()
	metrics.PaymentStarsTotal.Add(float64(pay.TotalAmount))

	expiry, err := b.subs.ApplyTime(ctx, tgID, p.Days)
	if err != nil {
		b.replyError(chatID, "extending after payment", err)
		b.notifyAdmin(fmt.Sprintf(
			"❗️ Оплата от <code>%d</code> (%d ⭐, %s) прошла, но продление не применилось: %v",
			tgID, pay.TotalAmount, p.Key, err))
		return
	}

	b.reply(chatID, fmt.Sprintf("✅ Оплата получена! Подписка продлена на %d дн.\n%s",
		p.Days, b.formatExpiry(expiry)), nil)
	b.showSubscription(ctx, chatID, tgID)

	if _, err := b.promos.PayReferral(ctx, tgID, int64(pay.TotalAmount),
		b.cfg.RefBonusDays, b.cfg.CashbackPct); err != nil {
		b.logger.Error("paying referral", "tgId", tgID, "err", err)
	}
}

func (b *Bot) paymentMismatch(chatID, tgID int64, pay *tgbotapi.SuccessfulPayment) {
	b.logger.Error("payment with unknown plan",
		"tgId", tgID, "payload", pay.InvoicePayload, "stars", pay.TotalAmount)
	b.reply(chatID, "❌ Не нашли информацию об оплаченном тарифе. Напишите в поддержку, мы всё исправим.", backKeyboard("menu_main"))
	b.notifyAdmin(fmt.Sprintf(
		"❗️ Оплата от <code>%d</code> на %d ⭐ с неизвестным тарифом «%s». Продление не выполнено.",
		tgID, pay.TotalAmount, pay.InvoicePayload))
}

func (b *Bot) notifyAdmin(text string) {
	if _, err := b.transport.Send(b.cfg.AdminID, text); err != nil {
		b.logger.Error("notifying operator", "err", err)
	}
}
