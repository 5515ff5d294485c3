package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGImageBot/internal/config"
	"github.com/digkill/TGImageBot/internal/models"
)

func mainMenu(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnGenerate), tgbotapi.NewKeyboardButton(btnEdit)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCompose), tgbotapi.NewKeyboardButton(btnCard)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnProfile), tgbotapi.NewKeyboardButton(btnBuy)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnReferral), tgbotapi.NewKeyboardButton(btnKey)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnClear), tgbotapi.NewKeyboardButton(btnFeedback)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnHelp)),
	}
	if isAdmin {
		rows = append(rows,
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAdminKey), tgbotapi.NewKeyboardButton(btnAdminUsers)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAdminSearch), tgbotapi.NewKeyboardButton(btnAdminAnalytics)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAdminBroadcast), tgbotapi.NewKeyboardButton(btnAdminReward)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAdminPlans)),
		)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbCancel)),
	)
}

func channelsKeyboard(channels []config.Channel) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, ch := range channels {
		if ch.Username == "" {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 @"+ch.Username, "https://t.me/"+ch.Username),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Я подписался", cbCheckChannels),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func plansKeyboard(plans []models.Plan, prefix string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		label := fmt.Sprintf("%s — %d ₽", p.Title, p.PriceRub)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(prefix, p.Name)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func buyKeyboard(name models.PlanName) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Оформить", callbackData(cbBuy, name))),
	)
}

func usersKeyboard(users []models.User) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(users))
	for _, u := range users {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(displayName(&u), callbackData(cbUser, u.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func userCardKeyboard(u *models.User) tgbotapi.InlineKeyboardMarkup {
	ban := tgbotapi.NewInlineKeyboardButtonData("🚫 Забанить", callbackData(cbBan, u.ID))
	if u.Banned {
		ban = tgbotapi.NewInlineKeyboardButtonData("✅ Разбанить", callbackData(cbUnban, u.ID))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔇 Мут", callbackData(cbMute, u.ID)),
			ban,
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✉️ Написать", callbackData(cbMessage, u.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", callbackData(cbDelete, u.ID)),
		),
	}
	for _, name := range models.PlanNames {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎁 "+string(name), callbackData(cbGift, name, u.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func displayName(u *models.User) string {
	if u.Username != "" {
		return fmt.Sprintf("@%s (%d)", u.Username, u.ID)
	}
	if u.FirstName != "" {
		return fmt.Sprintf("%s (%d)", u.FirstName, u.ID)
	}
	return fmt.Sprintf("%d", u.ID)
}
