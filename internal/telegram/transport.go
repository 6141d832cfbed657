// Package telegram wraps the Bot API client with the small surface the
// dispatcher needs, and classifies delivery errors so callers can tell
// a blocked recipient from a transient outage.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// starsCurrency is the Telegram Stars currency code; Stars invoices
// carry an empty provider token.
const starsCurrency = "XTR"

// Transport is a thin wrapper over the Bot API client.
type Transport struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

func New(token string, logger *slog.Logger) (*Transport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorizing bot: %w", err)
	}
	logger.Info("bot authorized", "username", api.Self.UserName)
	return &Transport{api: api, logger: logger}, nil
}

// Username returns the bot's own username, used for referral links.
func (t *Transport) Username() string { return t.api.Self.UserName }

// Updates starts long polling and returns the update channel. The
// channel closes shortly after StopReceivingUpdates.
func (t *Transport) Updates(ctx context.Context) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	ch := t.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		t.api.StopReceivingUpdates()
	}()
	return ch
}

// Send delivers an HTML-formatted message and returns its message id.
func (t *Transport) Send(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return t.send(msg)
}

// SendMarkup delivers a message with an inline or reply keyboard.
func (t *Transport) SendMarkup(chatID int64, text string, markup interface{}) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	return t.send(msg)
}

func (t *Transport) send(msg tgbotapi.MessageConfig) (int, error) {
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("telegram: sending to %d: %w", msg.ChatID, err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text (and optionally the inline keyboard) of a
// previously sent message.
func (t *Transport) Edit(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = markup
	if _, err := t.api.Send(edit); err != nil {
		return fmt.Errorf("telegram: editing %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

// Delete removes a message. Deleting an already-deleted message is not
// an error worth surfacing.
func (t *Transport) Delete(chatID int64, messageID int) error {
	_, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	if err != nil && !strings.Contains(err.Error(), "message to delete not found") {
		return fmt.Errorf("telegram: deleting %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query, optionally with a toast.
func (t *Transport) AnswerCallback(callbackID, text string) {
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		t.logger.Debug("answering callback", "err", err)
	}
}

// SendInvoice issues a Telegram Stars invoice. The payload round-trips
// through the payment flow and identifies the purchased plan.
func (t *Transport) SendInvoice(chatID int64, title, description, payload string, stars int) error {
	inv := tgbotapi.NewInvoice(chatID, title, description, payload,
		"", // provider token is empty for Stars
		"", starsCurrency,
		[]tgbotapi.LabeledPrice{{Label: title, Amount: stars}})
	if _, err := t.api.Request(inv); err != nil {
		return fmt.Errorf("telegram: sending invoice to %d: %w", chatID, err)
	}
	return nil
}

// AnswerPreCheckout approves or rejects a pre-checkout query.
func (t *Transport) AnswerPreCheckout(queryID string, ok bool, errorMessage string) error {
	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       errorMessage,
	}
	if _, err := t.api.Request(cfg); err != nil {
		return fmt.Errorf("telegram: answering pre-checkout: %w", err)
	}
	return nil
}

// SendPoll publishes an anonymous single-answer poll.
func (t *Transport) SendPoll(chatID int64, question string, options []string) error {
	poll := tgbotapi.NewPoll(chatID, question, options...)
	poll.IsAnonymous = true
	if _, err := t.api.Send(poll); err != nil {
		return fmt.Errorf("telegram: sending poll to %d: %w", chatID, err)
	}
	return nil
}

// CopyMessage re-delivers an existing message (used for broadcasts, so
// formatting and media survive verbatim) and returns the new message id.
func (t *Transport) CopyMessage(toChatID, fromChatID int64, messageID int) (int, error) {
	cfg := tgbotapi.NewCopyMessage(toChatID, fromChatID, messageID)
	sent, err := t.api.CopyMessage(cfg)
	if err != nil {
		return 0, fmt.Errorf("telegram: copying message to %d: %w", toChatID, err)
	}
	return sent.MessageID, nil
}

// SendDocument uploads a local file (database backups).
func (t *Transport) SendDocument(chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := t.api.Send(doc); err != nil {
		return fmt.Errorf("telegram: sending document to %d: %w", chatID, err)
	}
	return nil
}

// SetCommands installs the command menu shown in the client UI.
func (t *Transport) SetCommands(commands []tgbotapi.BotCommand) error {
	if _, err := t.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("telegram: setting commands: %w", err)
	}
	return nil
}

// IsPermanent reports whether a delivery error will never succeed on
// retry: the user blocked the bot, deleted the account or the chat is
// gone. Transient errors (rate limits, network) return false.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"bot was blocked by the user",
		"user is deactivated",
		"chat not found",
		"bot can't initiate conversation",
		"kicked from",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
