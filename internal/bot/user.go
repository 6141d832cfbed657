package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

const startText = `Привет! Это VPN на протоколе VLESS Reality: быстрый, устойчивый к блокировкам, без логов активности.

Выберите раздел в меню ниже 👇`

func (b *Bot) sendMainMenu(chatID, tgID int64) {
	b.reply(chatID, startText, mainMenuKeyboard(b.isAdmin(tgID)))
}

func (b *Bot) showPrices(ctx context.Context, chatID int64) {
	prices, err := b.state.ListPrices(ctx)
	if err != nil {
		b.replyError(chatID, "listing prices", err)
		return
	}
	b.reply(chatID, "Выберите тариф. Оплата в Telegram Stars ⭐", pricesKeyboard(prices))
}

func (b *Bot) showSubscription(ctx context.Context, chatID, tgID int64) {
	art, err := b.subs.RenderArtifacts(ctx, tgID)
	if errors.Is(err, xui.ErrClientNotFound) {
		b.reply(chatID, "У вас пока нет подписки. Оформите тариф или активируйте пробный период.", backKeyboard("menu_main"))
		return
	}
	if err != nil {
		b.replyError(chatID, "rendering artifacts", err)
		return
	}

	var traffic string
	if rep, err := b.historian.Report(ctx, art.Client.Email); err == nil {
		traffic = fmt.Sprintf("\n📊 Трафик: сегодня %s, за неделю %s, за месяц %s\n",
			formatBytes(rep.Today.Total()), formatBytes(rep.Week.Total()), formatBytes(rep.Month.Total()))
	}

	text := fmt.Sprintf(
		"📱 <b>Ваша подписка</b>\n\n%s\n%s\n<b>Ссылка для приложения:</b>\n<code>%s</code>\n\n<b>Подписка (для импорта):</b>\n<code>%s</code>",
		b.formatExpiry(art.Client.ExpiryTime), traffic, art.URI, art.SubscriptionURL)
	b.reply(chatID, text, backKeyboard("menu_main"))
}

func (b *Bot) formatExpiry(expiryMs int64) string {
	if expiryMs == 0 {
		return "⏳ Срок действия: безлимитная"
	}
	t := time.UnixMilli(expiryMs).In(b.loc)
	if expiryMs <= b.now().UnixMilli() {
		return "⏳ Срок действия: истекла " + t.Format("02.01.2006 15:04")
	}
	return "⏳ Действует до: " + t.Format("02.01.2006 15:04")
}

// handleTrial activates the one-shot trial. A second attempt shows when
// it was consumed and grants nothing.
func (b *Bot) handleTrial(ctx context.Context, chatID, tgID int64) {
	u, err := b.state.User(ctx, tgID)
	if err != nil {
		b.replyError(chatID, "loading user", err)
		return
	}
	if u.TrialUsed {
		at := time.Unix(u.TrialActivatedAt, 0).In(b.loc)
		b.reply(chatID, fmt.Sprintf(
			"Пробный период уже был активирован %s.", at.Format("02.01.2006")), backKeyboard("menu_main"))
		return
	}

	if _, err := b.subs.ApplyTime(ctx, tgID, b.cfg.TrialDays); err != nil {
		b.replyError(chatID, "activating trial", err)
		return
	}
	if err := b.state.MarkTrialUsed(ctx, tgID, b.now()); err != nil {
		b.logger.Error("marking trial used", "tgId", tgID, "err", err)
	}
	b.reply(chatID, fmt.Sprintf(
		"🎁 Пробный период на %d дн. активирован!", b.cfg.TrialDays), nil)
	b.showSubscription(ctx, chatID, tgID)
}

func (b *Bot) redeemPromo(ctx context.Context, chatID, tgID int64, code string) {
	days, _, err := b.promos.Redeem(ctx, code, tgID)
	switch {
	case errors.Is(err, store.ErrInvalidPromo):
		b.reply(chatID, "Такого промокода нет. Проверьте написание.", backKeyboard("menu_main"))
	case errors.Is(err, store.ErrAlreadyRedeemed):
		b.reply(chatID, "Вы уже использовали этот промокод.", backKeyboard("menu_main"))
	case errors.Is(err, store.ErrPromoExhausted):
		b.reply(chatID, "Промокод уже израсходован.", backKeyboard("menu_main"))
	case err != nil:
		b.replyError(chatID, "redeeming promo", err)
	default:
		b.reply(chatID, fmt.Sprintf("🎟 Промокод принят! +%d дн. к подписке.", days), backKeyboard("menu_main"))
	}
}

func (b *Bot) createTicket(ctx context.Context, chatID, tgID int64, text string) {
	id, err := b.state.AddTicket(ctx, tgID, text, b.now())
	if err != nil {
		b.replyError(chatID, "creating ticket", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🆘 Обращение #%d принято. Ответим в этом чате.", id), backKeyboard("menu_main"))
	if _, err := b.transport.Send(b.cfg.AdminID, fmt.Sprintf(
		"🎫 Тикет #%d от <code>%d</code>:\n%s", id, tgID, text)); err != nil {
		b.logger.Error("forwarding ticket", "err", err)
	}
}

func (b *Bot) showReferral(ctx context.Context, chatID, tgID int64) {
	link := fmt.Sprintf("https://t.me/%s?start=ref_%d", b.transport.Username(), tgID)
	u, err := b.state.User(ctx, tgID)
	if err != nil {
		b.replyError(chatID, "loading user", err)
		return
	}
	text := fmt.Sprintf(
		"👥 Приглашайте друзей и получайте %d дн. подписки и %d%% кэшбэка с каждой их оплаты.\n\nВаша ссылка:\n<code>%s</code>\n\n💰 Баланс: %d ⭐",
		b.cfg.RefBonusDays, b.cfg.CashbackPct, link, u.Balance)
	b.reply(chatID, text, backKeyboard("menu_main"))
}

func (b *Bot) applyReferral(ctx context.Context, tgID int64, refArg string) {
	refID, err := strconv.ParseInt(refArg, 10, 64)
	if err != nil || refID <= 0 {
		return
	}
	if err := b.state.SetReferrer(ctx, tgID, refID); err != nil {
		b.logger.Error("setting referrer", "tgId", tgID, "err", err)
	}
}

func (b *Bot) handleVote(ctx context.Context, chatID, tgID int64, arg string) {
	var pollID int64
	var option int
	if _, err := fmt.Sscanf(arg, "%d_%d", &pollID, &option); err != nil {
		return
	}
	err := b.state.Vote(ctx, pollID, tgID, option)
	switch {
	case errors.Is(err, store.ErrAlreadyVoted):
		b.reply(chatID, "Вы уже голосовали в этом опросе.", nil)
	case err != nil:
		b.replyError(chatID, "recording vote", err)
	default:
		b.reply(chatID, "✅ Голос учтён, спасибо!", nil)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d Б", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %sБ", float64(n)/float64(div), []string{"К", "М", "Г", "Т"}[exp])
}
