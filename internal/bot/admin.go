package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/telegram"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

func (b *Bot) sendAdminMenu(chatID int64) {
	b.reply(chatID, "⚙️ <b>Админ-панель</b>", adminMenuKeyboard())
}

func (b *Bot) handleAdminCallback(ctx context.Context, chatID, adminID int64, data string) {
	sess := b.sessions.get(chatID)

	switch {
	case data == "admin_menu":
		b.sessions.reset(chatID)
		b.sendAdminMenu(chatID)
	case data == "admin_users":
		sess.slot = slotAwaitingSearchUser
		b.reply(chatID, "Введите Telegram ID, @username или часть имени:", backKeyboard("admin_menu"))
	case data == "admin_stats":
		b.showStats(ctx, chatID)
	case data == "admin_prices":
		b.showPriceEditor(ctx, chatID)
	case strings.HasPrefix(data, "price_"):
		sess.editPriceKey = strings.TrimPrefix(data, "price_")
		sess.slot = slotAwaitingPriceAmount
		b.reply(chatID, fmt.Sprintf(
			"Тариф <code>%s</code>. Отправьте новую цену в Stars (целое число):", sess.editPriceKey),
			backKeyboard("admin_prices"))
	case data == "admin_promos":
		b.showPromoEditor(ctx, chatID)
	case data == "promo_new":
		sess.slot = slotAwaitingPromoData
		b.reply(chatID, "Формат: <code>КОД дней макс_использований</code>\nНапример: <code>SUMMER 7 100</code> (0 = без лимита)", backKeyboard("admin_promos"))
	case strings.HasPrefix(data, "promo_del_"):
		b.deletePromo(ctx, chatID, strings.TrimPrefix(data, "promo_del_"))
	case data == "admin_broadcast":
		sess.flashBroadcast = false
		b.reply(chatID, "Кому отправить рассылку?", broadcastTargetKeyboard("bc"))
	case data == "admin_flash":
		sess.flashBroadcast = true
		sess.slot = slotAwaitingFlashDuration
		b.reply(chatID, "Через сколько минут удалить сообщение у получателей?", backKeyboard("admin_menu"))
	case data == "bc_all" || data == "flash_all":
		sess.broadcastIDs = nil
		sess.slot = slotAwaitingBroadcast
		b.reply(chatID, "Отправьте сообщение для рассылки (текст, фото, что угодно):", backKeyboard("admin_menu"))
	case data == "bc_sel" || data == "flash_sel":
		sess.slot = slotAwaitingBroadcastUsers
		b.reply(chatID, "Перечислите Telegram ID получателей через пробел или запятую:", backKeyboard("admin_menu"))
	case data == "admin_polls":
		b.showPolls(ctx, chatID)
	case data == "poll_new":
		sess.slot = slotAwaitingPollQuestion
		b.reply(chatID, "Введите вопрос опроса:", backKeyboard("admin_polls"))
	case strings.HasPrefix(data, "poll_res_"):
		b.showPollResults(ctx, chatID, strings.TrimPrefix(data, "poll_res_"))
	case data == "admin_backup":
		b.runBackup(chatID)
	case data == "admin_suspicious":
		b.showSuspicious(ctx, chatID)
	case data == "admin_tickets":
		b.showTickets(ctx, chatID)
	case strings.HasPrefix(data, "ticket_close_"):
		b.closeTicket(ctx, chatID, strings.TrimPrefix(data, "ticket_close_"))
	case strings.HasPrefix(data, "ushow_"):
		b.showUserCard(ctx, chatID, strings.TrimPrefix(data, "ushow_"))
	case strings.HasPrefix(data, "uext_"):
		b.extendUser(ctx, chatID, strings.TrimPrefix(data, "uext_"))
	case strings.HasPrefix(data, "urebind_"):
		sess.rebindUID = strings.TrimPrefix(data, "urebind_")
		sess.slot = slotAwaitingRebindContact
		b.reply(chatID, "Поделитесь контактом нового владельца подписки:", backKeyboard("admin_menu"))
	case strings.HasPrefix(data, "udel_"):
		b.deleteClient(ctx, chatID, strings.TrimPrefix(data, "udel_"))
	default:
		b.logger.Debug("unhandled admin callback", "data", data)
	}
}

func (b *Bot) handleAdminText(ctx context.Context, chatID int64, sess *session, msg *tgbotapi.Message) {
	switch sess.slot {
	case slotAwaitingSearchUser:
		sess.slot = slotNone
		b.searchUsers(ctx, chatID, msg.Text)
	case slotAwaitingPriceAmount:
		sess.slot = slotNone
		b.updatePrice(ctx, chatID, sess.editPriceKey, msg.Text)
		sess.editPriceKey = ""
	case slotAwaitingPromoData:
		sess.slot = slotNone
		b.createPromo(ctx, chatID, msg.Text)
	case slotAwaitingFlashDuration:
		minutes, err := strconv.Atoi(strings.TrimSpace(msg.Text))
		if err != nil || minutes <= 0 {
			b.reply(chatID, "Нужно целое число минут, например 30.", nil)
			return
		}
		sess.flashLifetime = int64(minutes) * 60
		sess.slot = slotNone
		b.reply(chatID, "Кому отправить флеш-рассылку?", broadcastTargetKeyboard("flash"))
	case slotAwaitingBroadcastUsers:
		ids := parseIDList(msg.Text)
		if len(ids) == 0 {
			b.reply(chatID, "Не нашли ни одного ID. Попробуйте ещё раз.", nil)
			return
		}
		sess.broadcastIDs = ids
		sess.slot = slotAwaitingBroadcast
		b.reply(chatID, fmt.Sprintf("Получателей: %d. Отправьте сообщение для рассылки:", len(ids)), nil)
	case slotAwaitingBroadcast:
		sess.slot = slotNone
		b.runBroadcast(ctx, chatID, sess, msg)
	case slotAwaitingPollQuestion:
		sess.pollQuestion = strings.TrimSpace(msg.Text)
		sess.slot = slotAwaitingPollOptions
		b.reply(chatID, "Теперь варианты ответа, каждый с новой строки (от 2 до 10):", nil)
	case slotAwaitingPollOptions:
		sess.slot = slotNone
		b.createPoll(ctx, chatID, sess, msg.Text)
	default:
		b.sendAdminMenu(chatID)
	}
}

func (b *Bot) handleContact(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sess := b.sessions.get(chatID)
	if sess.slot != slotAwaitingRebindContact || !b.isAdmin(msg.From.ID) {
		return
	}
	sess.slot = slotNone
	uid := sess.rebindUID
	sess.rebindUID = ""

	if msg.Contact.UserID == 0 {
		b.reply(chatID, "У контакта нет Telegram ID (не пользуется Telegram?).", nil)
		return
	}
	if err := b.subs.Rebind(ctx, uid, msg.Contact.UserID); err != nil {
		b.replyError(chatID, "rebinding client", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🔄 Подписка перепривязана на <code>%d</code>.", msg.Contact.UserID), backKeyboard("admin_menu"))
}

func (b *Bot) showStats(ctx context.Context, chatID int64) {
	users, err := b.state.CountUsers(ctx)
	if err != nil {
		b.replyError(chatID, "counting users", err)
		return
	}
	revenue, err := b.state.RevenueTotal(ctx)
	if err != nil {
		b.replyError(chatID, "summing revenue", err)
		return
	}
	clients, err := b.subs.Clients(ctx)
	if err != nil {
		b.replyError(chatID, "listing clients", err)
		return
	}
	var active int
	nowMs := b.now().UnixMilli()
	for _, c := range clients {
		if c.Unlimited() || c.ExpiryTime > nowMs {
			active++
		}
	}
	b.reply(chatID, fmt.Sprintf(
		"📊 <b>Статистика</b>\n\n👤 Пользователей бота: %d\n🔑 Клиентов на сервере: %d (активных: %d)\n⭐ Выручка: %d Stars",
		users, len(clients), active, revenue), backKeyboard("admin_menu"))
}

func (b *Bot) searchUsers(ctx context.Context, chatID int64, query string) {
	users, err := b.state.SearchUsers(ctx, strings.TrimSpace(query))
	if err != nil {
		b.replyError(chatID, "searching users", err)
		return
	}
	if len(users) == 0 {
		b.reply(chatID, "Никого не нашли.", backKeyboard("admin_menu"))
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(users)+1)
	for _, u := range users {
		label := fmt.Sprintf("%d @%s %s", u.TgID, u.Username, u.FirstName)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("ushow_%d", u.TgID)),
		})
	}
	rows = append(rows, backRow("admin_menu"))
	b.reply(chatID, fmt.Sprintf("Найдено: %d", len(users)), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) showUserCard(ctx context.Context, chatID int64, arg string) {
	tgID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}
	u, err := b.state.User(ctx, tgID)
	if err != nil {
		b.replyError(chatID, "loading user", err)
		return
	}

	var (
		expiry     = "нет подписки"
		clientUUID string
	)
	if c, err := b.subs.ClientFor(ctx, tgID); err == nil {
		expiry = b.formatExpiry(c.ExpiryTime)
		clientUUID = c.ID
	} else if !errors.Is(err, xui.ErrClientNotFound) {
		b.logger.Error("loading client", "tgId", tgID, "err", err)
	}

	text := fmt.Sprintf(
		"👤 <code>%d</code> @%s %s %s\n%s\n💰 Баланс: %d ⭐\n🎁 Триал: %v",
		u.TgID, u.Username, u.FirstName, u.LastName, expiry, u.Balance, u.TrialUsed)
	b.reply(chatID, text, adminUserKeyboard(tgID, clientUUID))
}

func (b *Bot) extendUser(ctx context.Context, chatID int64, arg string) {
	parts := strings.SplitN(arg, "_", 2)
	if len(parts) != 2 {
		return
	}
	tgID, err1 := strconv.ParseInt(parts[0], 10, 64)
	days, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return
	}
	expiry, err := b.subs.ApplyTime(ctx, tgID, days)
	if err != nil {
		b.replyError(chatID, "manual extend", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ <code>%d</code>: %+d дн.\n%s", tgID, days, b.formatExpiry(expiry)), nil)
	b.showUserCard(ctx, chatID, parts[0])
}

func (b *Bot) deleteClient(ctx context.Context, chatID int64, uid string) {
	if err := b.subs.Delete(ctx, uid); err != nil {
		b.replyError(chatID, "deleting client", err)
		return
	}
	b.reply(chatID, "🗑 Клиент удалён с сервера.", backKeyboard("admin_menu"))
}

func (b *Bot) showPriceEditor(ctx context.Context, chatID int64) {
	prices, err := b.state.ListPrices(ctx)
	if err != nil {
		b.replyError(chatID, "listing prices", err)
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(prices)+1)
	for _, p := range prices {
		label := fmt.Sprintf("%s — %d дн. — %d ⭐", p.Label, p.Days, p.Stars)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, "price_"+p.Key),
		})
	}
	rows = append(rows, backRow("admin_menu"))
	b.reply(chatID, "Нажмите на тариф, чтобы изменить цену:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) updatePrice(ctx context.Context, chatID int64, key, input string) {
	stars, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || stars <= 0 {
		b.reply(chatID, "Нужно целое положительное число Stars.", nil)
		return
	}
	p, err := b.state.Price(ctx, key)
	if err != nil {
		b.replyError(chatID, "loading price", err)
		return
	}
	p.Stars = stars
	if err := b.state.SetPrice(ctx, *p); err != nil {
		b.replyError(chatID, "saving price", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("💰 Тариф <code>%s</code> теперь стоит %d ⭐.", key, stars), backKeyboard("admin_prices"))
}

func (b *Bot) showPromoEditor(ctx context.Context, chatID int64) {
	promos, err := b.state.ListPromos(ctx)
	if err != nil {
		b.replyError(chatID, "listing promos", err)
		return
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData("➕ Создать промокод", "promo_new")},
	}
	var lines []string
	for _, p := range promos {
		limit := "∞"
		if p.MaxUses > 0 {
			limit = strconv.Itoa(p.MaxUses)
		}
		lines = append(lines, fmt.Sprintf("<code>%s</code>: %d дн., %d/%s", p.Code, p.GrantDays, p.UsedCount, limit))
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🗑 "+p.Code, "promo_del_"+p.Code),
		})
	}
	rows = append(rows, backRow("admin_menu"))
	text := "🎟 <b>Промокоды</b>"
	if len(lines) > 0 {
		text += "\n\n" + strings.Join(lines, "\n")
	}
	b.reply(chatID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) createPromo(ctx context.Context, chatID int64, input string) {
	fields := strings.Fields(input)
	if len(fields) != 3 {
		b.reply(chatID, "Формат: КОД дней макс_использований", nil)
		return
	}
	days, err1 := strconv.Atoi(fields[1])
	maxUses, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || days == 0 || maxUses < 0 {
		b.reply(chatID, "Дни и лимит должны быть числами.", nil)
		return
	}
	if err := b.state.CreatePromo(ctx, store.PromoCode{
		Code: fields[0], GrantDays: days, MaxUses: maxUses,
	}); err != nil {
		b.replyError(chatID, "creating promo", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🎟 Промокод <code>%s</code> создан: %d дн.",
		store.NormalizePromo(fields[0]), days), backKeyboard("admin_promos"))
}

func (b *Bot) deletePromo(ctx context.Context, chatID int64, code string) {
	if err := b.state.DeletePromo(ctx, code); err != nil {
		b.replyError(chatID, "deleting promo", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🗑 Промокод <code>%s</code> удалён.", code), backKeyboard("admin_promos"))
	b.showPromoEditor(ctx, chatID)
}

// runBroadcast copies the admin's message to every target. Flash
// broadcasts additionally register each delivered copy for reaping.
func (b *Bot) runBroadcast(ctx context.Context, chatID int64, sess *session, msg *tgbotapi.Message) {
	targets := sess.broadcastIDs
	if targets == nil {
		var err error
		targets, err = b.state.UserIDs(ctx)
		if err != nil {
			b.replyError(chatID, "listing broadcast targets", err)
			return
		}
	}
	flash := sess.flashBroadcast
	lifetime := sess.flashLifetime
	sess.broadcastIDs = nil
	sess.flashBroadcast = false
	sess.flashLifetime = 0

	var delivered, blocked int
	deleteAt := b.now().Unix() + lifetime
	for _, target := range targets {
		sentID, err := b.transport.CopyMessage(target, chatID, msg.MessageID)
		if err != nil {
			if telegram.IsPermanent(err) {
				blocked++
				metrics.BroadcastBlockedTotal.Inc()
				if flash {
					if rerr := b.state.RecordFlashDeliveryError(ctx, target, err.Error(), b.now()); rerr != nil {
						b.logger.Error("recording flash delivery error", "err", rerr)
					}
				}
			} else {
				b.logger.Warn("broadcast delivery failed", "chat", target, "err", err)
			}
			continue
		}
		delivered++
		if flash {
			if err := b.state.AddFlashMessage(ctx, store.FlashMessage{
				ChatID: target, MessageID: int64(sentID), DeleteAt: deleteAt,
			}); err != nil {
				b.logger.Error("registering flash message", "err", err)
			}
		}
	}

	summary := fmt.Sprintf("📣 Рассылка завершена: доставлено %d, заблокировали бота %d.", delivered, blocked)
	if flash {
		summary += fmt.Sprintf("\n⚡️ Сообщения исчезнут через %d мин.", lifetime/60)
	}
	b.reply(chatID, summary, backKeyboard("admin_menu"))
}

func (b *Bot) showPolls(ctx context.Context, chatID int64) {
	polls, err := b.state.ListPolls(ctx)
	if err != nil {
		b.replyError(chatID, "listing polls", err)
		return
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData("➕ Новый опрос", "poll_new")},
	}
	for _, p := range polls {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("📋 #%d %s", p.ID, p.Question),
				fmt.Sprintf("poll_res_%d", p.ID)),
		})
	}
	rows = append(rows, backRow("admin_menu"))
	b.reply(chatID, "📋 <b>Опросы</b>", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

// createPoll stores the poll and pushes it to every user with inline
// vote buttons, one vote per user enforced by the store.
func (b *Bot) createPoll(ctx context.Context, chatID int64, sess *session, optionsText string) {
	question := sess.pollQuestion
	sess.pollQuestion = ""

	var options []string
	for _, line := range strings.Split(optionsText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			options = append(options, line)
		}
	}
	if len(options) < 2 || len(options) > 10 {
		b.reply(chatID, "Нужно от 2 до 10 вариантов, каждый с новой строки.", nil)
		return
	}

	pollID, err := b.state.CreatePoll(ctx, question, options, b.now())
	if err != nil {
		b.replyError(chatID, "creating poll", err)
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for i, opt := range options {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(opt, fmt.Sprintf("vote_%d_%d", pollID, i)),
		})
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)

	ids, err := b.state.UserIDs(ctx)
	if err != nil {
		b.replyError(chatID, "listing poll targets", err)
		return
	}
	var delivered int
	for _, id := range ids {
		if _, err := b.transport.SendMarkup(id, "📋 Опрос: "+question, markup); err == nil {
			delivered++
		}
	}
	b.reply(chatID, fmt.Sprintf("📋 Опрос #%d отправлен %d пользователям.", pollID, delivered), backKeyboard("admin_polls"))
}

func (b *Bot) showPollResults(ctx context.Context, chatID int64, arg string) {
	pollID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}
	p, err := b.state.Poll(ctx, pollID)
	if err != nil {
		b.replyError(chatID, "loading poll", err)
		return
	}
	counts, err := b.state.PollResults(ctx, pollID)
	if err != nil {
		b.replyError(chatID, "loading poll results", err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>%s</b>\n\n", p.Question)
	for i, opt := range p.Options {
		var n int64
		if i < len(counts) {
			n = counts[i]
		}
		fmt.Fprintf(&sb, "%s — %d\n", opt, n)
	}
	b.reply(chatID, sb.String(), backKeyboard("admin_polls"))
}

func (b *Bot) runBackup(chatID int64) {
	files, err := b.backups.Run(b.cfg.BotDBPath, b.cfg.PanelDBPath)
	if err != nil {
		b.replyError(chatID, "running backup", err)
		return
	}
	for _, f := range files {
		if err := b.transport.SendDocument(chatID, f, ""); err != nil {
			b.logger.Error("sending backup file", "file", f, "err", err)
		}
	}
	b.reply(chatID, fmt.Sprintf("💾 Бэкап готов: %d файла(ов).", len(files)), backKeyboard("admin_menu"))
}

func (b *Bot) showSuspicious(ctx context.Context, chatID int64) {
	events, err := b.state.SuspiciousEventsSince(ctx, b.now().Add(-24*time.Hour))
	if err != nil {
		b.replyError(chatID, "listing suspicious events", err)
		return
	}
	if len(events) == 0 {
		b.reply(chatID, "🕵️ За сутки подозрительной активности не было.", backKeyboard("admin_menu"))
		return
	}
	var sb strings.Builder
	sb.WriteString("🕵️ <b>Подозрительная активность за 24 ч</b>\n\n")
	for _, e := range events {
		at := time.Unix(e.LastSeen, 0).In(b.loc)
		fmt.Fprintf(&sb, "<b>%s</b> (%d раз, посл. %s)\n%s\n\n",
			e.Email, e.Count, at.Format("02.01 15:04"), e.IPs)
	}
	b.reply(chatID, sb.String(), backKeyboard("admin_menu"))
}

func (b *Bot) showTickets(ctx context.Context, chatID int64) {
	tickets, err := b.state.OpenTickets(ctx)
	if err != nil {
		b.replyError(chatID, "listing tickets", err)
		return
	}
	if len(tickets) == 0 {
		b.reply(chatID, "🎫 Открытых обращений нет.", backKeyboard("admin_menu"))
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tickets)+1)
	var sb strings.Builder
	sb.WriteString("🎫 <b>Открытые обращения</b>\n\n")
	for _, tk := range tickets {
		fmt.Fprintf(&sb, "#%d от <code>%d</code>:\n%s\n\n", tk.ID, tk.TgID, tk.Message)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ Закрыть #%d", tk.ID),
				fmt.Sprintf("ticket_close_%d", tk.ID)),
		})
	}
	rows = append(rows, backRow("admin_menu"))
	b.reply(chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) closeTicket(ctx context.Context, chatID int64, arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}
	if err := b.state.CloseTicket(ctx, id); err != nil {
		b.replyError(chatID, "closing ticket", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Тикет #%d закрыт.", id), nil)
	b.showTickets(ctx, chatID)
}

func parseIDList(input string) []int64 {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == ';'
	})
	var out []int64
	for _, f := range fields {
		if id, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64); err == nil && id > 0 {
			out = append(out, id)
		}
	}
	return out
}
