package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blikh/xui-stars-bot/internal/store"
)

func mainMenuKeyboard(isAdmin bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("💳 Купить подписку", "menu_buy"),
			tgbotapi.NewInlineKeyboardButtonData("📱 Моя подписка", "menu_sub"),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("🎁 Пробный период", "menu_trial"),
			tgbotapi.NewInlineKeyboardButtonData("🎟 Промокод", "menu_promo"),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("👥 Пригласить друга", "menu_ref"),
			tgbotapi.NewInlineKeyboardButtonData("🆘 Поддержка", "menu_support"),
		},
	}
	if isAdmin {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Админ-панель", "admin_menu"),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func pricesKeyboard(prices []store.Price) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(prices)+1)
	for _, p := range prices {
		label := fmt.Sprintf("%s — %d ⭐", p.Label, p.Stars)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, "buy_"+p.Key),
		})
	}
	rows = append(rows, backRow("menu_main"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func adminMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔍 Пользователи", "admin_users"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", "admin_stats"),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("💰 Тарифы", "admin_prices"),
			tgbotapi.NewInlineKeyboardButtonData("🎟 Промокоды", "admin_promos"),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("📣 Рассылка", "admin_broadcast"),
			tgbotapi.NewInlineKeyboardButtonData("⚡️ Флеш-рассылка", "admin_flash"),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("📋 Опросы", "admin_polls"),
			tgbotapi.NewInlineKeyboardButtonData("🕵️ Подозрительные", "admin_suspicious"),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("💾 Бэкап сейчас", "admin_backup"),
			tgbotapi.NewInlineKeyboardButtonData("🎫 Тикеты", "admin_tickets"),
		},
		backRow("menu_main"),
	)
}

func adminUserKeyboard(tgID int64, clientUUID string) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("➕ 7 дней", fmt.Sprintf("uext_%d_7", tgID)),
			tgbotapi.NewInlineKeyboardButtonData("➕ 30 дней", fmt.Sprintf("uext_%d_30", tgID)),
			tgbotapi.NewInlineKeyboardButtonData("➖ 7 дней", fmt.Sprintf("uext_%d_-7", tgID)),
		},
	}
	if clientUUID != "" {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔄 Перепривязать", "urebind_"+clientUUID),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить клиента", "udel_"+clientUUID),
		})
	}
	rows = append(rows, backRow("admin_menu"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func broadcastTargetKeyboard(prefix string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Всем", prefix+"_all"),
			tgbotapi.NewInlineKeyboardButtonData("Выбранным", prefix+"_sel"),
		},
		backRow("admin_menu"),
	)
}

func backRow(target string) []tgbotapi.InlineKeyboardButton {
	return []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", target),
	}
}

func backKeyboard(target string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(backRow(target))
}
