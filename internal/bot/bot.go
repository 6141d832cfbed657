// Package bot dispatches Telegram updates: user flows, the payment
// pipeline and the operator console.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blikh/xui-stars-bot/internal/backup"
	"github.com/blikh/xui-stars-bot/internal/history"
	"github.com/blikh/xui-stars-bot/internal/promo"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/subscription"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

const errGeneric = "⚠️ Что-то пошло не так. Попробуйте ещё раз позже."

// Transport is the Bot API surface the dispatcher drives, satisfied by
// *telegram.Transport.
type Transport interface {
	Username() string
	Updates(ctx context.Context) tgbotapi.UpdatesChannel
	Send(chatID int64, text string) (int, error)
	SendMarkup(chatID int64, text string, markup interface{}) (int, error)
	SendInvoice(chatID int64, title, description, payload string, stars int) error
	AnswerPreCheckout(queryID string, ok bool, errorMessage string) error
	AnswerCallback(callbackID, text string)
	CopyMessage(toChatID, fromChatID int64, messageID int) (int, error)
	SendDocument(chatID int64, path, caption string) error
	SetCommands(commands []tgbotapi.BotCommand) error
}

// Subscriptions is the manager slice the dispatcher needs, satisfied by
// *subscription.Manager.
type Subscriptions interface {
	ApplyTime(ctx context.Context, tgID int64, days int) (int64, error)
	Rebind(ctx context.Context, clientUUID string, newTgID int64) error
	Delete(ctx context.Context, clientUUID string) error
	ClientFor(ctx context.Context, tgID int64) (*xui.Client, error)
	Clients(ctx context.Context) ([]xui.Client, error)
	RenderArtifacts(ctx context.Context, tgID int64) (*subscription.Artifacts, error)
}

// Config carries the dispatcher's scalar settings.
type Config struct {
	AdminID      int64
	TrialDays    int
	RefBonusDays int
	CashbackPct  int
	BotDBPath    string
	PanelDBPath  string
}

// Bot is the update dispatcher.
type Bot struct {
	transport Transport
	state     *store.Store
	subs      Subscriptions
	promos    *promo.Engine
	historian *history.Historian
	backups   *backup.Runner
	cfg       Config
	loc       *time.Location
	logger    *slog.Logger
	sessions  *sessions
	now       func() time.Time
}

func New(transport Transport, state *store.Store, subs Subscriptions,
	promos *promo.Engine, historian *history.Historian, backups *backup.Runner,
	cfg Config, loc *time.Location, logger *slog.Logger) *Bot {
	return &Bot{
		transport: transport,
		state:     state,
		subs:      subs,
		promos:    promos,
		historian: historian,
		backups:   backups,
		cfg:       cfg,
		loc:       loc,
		logger:    logger,
		sessions:  newSessions(),
		now:       time.Now,
	}
}

// Run consumes the update channel until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	if err := b.transport.SetCommands([]tgbotapi.BotCommand{
		{Command: "start", Description: "Главное меню"},
		{Command: "menu", Description: "Главное меню"},
	}); err != nil {
		b.logger.Warn("setting bot commands", "err", err)
	}

	for update := range b.transport.Updates(ctx) {
		b.handleUpdate(ctx, update)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "panic", r)
		}
	}()

	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	from := msg.From
	if from == nil {
		return
	}
	chatID := msg.Chat.ID

	if _, _, err := b.state.EnsureUser(ctx, from.ID, from.UserName, from.FirstName, from.LastName); err != nil {
		b.logger.Error("ensuring user", "tgId", from.ID, "err", err)
	}

	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}
	if msg.Contact != nil {
		b.handleContact(ctx, msg)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleText(ctx, chatID, from.ID, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		// Deep-link payload: referral ids arrive as "/start ref_<id>".
		if arg := msg.CommandArguments(); strings.HasPrefix(arg, "ref_") {
			b.applyReferral(ctx, msg.From.ID, strings.TrimPrefix(arg, "ref_"))
		}
		b.sendMainMenu(chatID, msg.From.ID)
	case "menu":
		b.sendMainMenu(chatID, msg.From.ID)
	case "admin":
		if b.isAdmin(msg.From.ID) {
			b.sendAdminMenu(chatID)
		}
	default:
		b.sendMainMenu(chatID, msg.From.ID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	data := cq.Data
	b.transport.AnswerCallback(cq.ID, "")

	if _, _, err := b.state.EnsureUser(ctx, cq.From.ID, cq.From.UserName, cq.From.FirstName, cq.From.LastName); err != nil {
		b.logger.Error("ensuring user", "tgId", cq.From.ID, "err", err)
	}

	// Admin-only callbacks are silently dropped for everyone else.
	if strings.HasPrefix(data, "admin_") || isAdminCallback(data) ||
		strings.HasPrefix(data, "bc_") || strings.HasPrefix(data, "flash_") ||
		strings.HasPrefix(data, "price_") || strings.HasPrefix(data, "promo_") ||
		strings.HasPrefix(data, "ticket_") || strings.HasPrefix(data, "poll_") {
		if !b.isAdmin(cq.From.ID) {
			return
		}
		b.handleAdminCallback(ctx, chatID, cq.From.ID, data)
		return
	}

	switch {
	case data == "menu_main":
		b.sessions.reset(chatID)
		b.sendMainMenu(chatID, cq.From.ID)
	case data == "menu_buy":
		b.showPrices(ctx, chatID)
	case data == "menu_sub":
		b.showSubscription(ctx, chatID, cq.From.ID)
	case data == "menu_trial":
		b.handleTrial(ctx, chatID, cq.From.ID)
	case data == "menu_promo":
		b.sessions.get(chatID).slot = slotAwaitingPromo
		b.reply(chatID, "Введите промокод:", backKeyboard("menu_main"))
	case data == "menu_support":
		b.sessions.get(chatID).slot = slotAwaitingSupportMessage
		b.reply(chatID, "Опишите проблему одним сообщением, мы ответим как можно быстрее:", backKeyboard("menu_main"))
	case data == "menu_ref":
		b.showReferral(ctx, chatID, cq.From.ID)
	case strings.HasPrefix(data, "buy_"):
		b.sendPlanInvoice(ctx, chatID, strings.TrimPrefix(data, "buy_"))
	case strings.HasPrefix(data, "vote_"):
		b.handleVote(ctx, chatID, cq.From.ID, strings.TrimPrefix(data, "vote_"))
	default:
		b.logger.Debug("unhandled callback", "data", data)
	}
}

// isAdminCallback separates admin "u*" prefixes from user callbacks
// that happen to start with the same letter.
func isAdminCallback(data string) bool {
	for _, p := range []string{"uext_", "urebind_", "udel_", "ushow_"} {
		if strings.HasPrefix(data, p) {
			return true
		}
	}
	return false
}

func (b *Bot) handleText(ctx context.Context, chatID, tgID int64, msg *tgbotapi.Message) {
	sess := b.sessions.get(chatID)
	if sess.slot == slotNone {
		b.sendMainMenu(chatID, tgID)
		return
	}

	// Admin-only slots double-check the sender.
	switch sess.slot {
	case slotAwaitingPromo:
		sess.slot = slotNone
		b.redeemPromo(ctx, chatID, tgID, msg.Text)
	case slotAwaitingSupportMessage:
		sess.slot = slotNone
		b.createTicket(ctx, chatID, tgID, msg.Text)
	default:
		if !b.isAdmin(tgID) {
			sess.slot = slotNone
			b.sendMainMenu(chatID, tgID)
			return
		}
		b.handleAdminText(ctx, chatID, sess, msg)
	}
}

func (b *Bot) isAdmin(tgID int64) bool { return tgID == b.cfg.AdminID }

func (b *Bot) reply(chatID int64, text string, markup interface{}) {
	var err error
	if markup == nil {
		_, err = b.transport.Send(chatID, text)
	} else {
		_, err = b.transport.SendMarkup(chatID, text, markup)
	}
	if err != nil {
		b.logger.Error("sending reply", "chat", chatID, "err", err)
	}
}

func (b *Bot) replyError(chatID int64, op string, err error) {
	b.logger.Error(op, "chat", chatID, "err", err)
	b.reply(chatID, errGeneric, nil)
}

// NotifySuspicious implements watcher.Notifier: multi-IP alerts go to
// the operator chat.
func (b *Bot) NotifySuspicious(ctx context.Context, email, ipList string, count int) {
	text := fmt.Sprintf("🕵️ <b>%s</b> подключался с %d IP за минуту:\n%s", email, count, ipList)
	if _, err := b.transport.Send(b.cfg.AdminID, text); err != nil {
		b.logger.Error("notifying operator", "err", err)
	}
}
