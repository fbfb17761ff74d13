package notify

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot - Telegram бот оператора: алерты и команда /status
type Bot struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewBot авторизует бота
func NewBot(token string, logger *slog.Logger) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	logger.Info("✅ Bot authorized", slog.String("username", bot.Self.UserName))

	// Устанавливаем команды для меню
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "status", Description: "Статус копира"},
	)
	if _, err := bot.Request(cfg); err != nil {
		logger.Error("Failed to set commands", slog.Any("error", err))
	}

	return &Bot{
		bot:    bot,
		logger: logger,
	}, nil
}

// SendHTMLMessage отправляет сообщение с HTML форматированием
func (b *Bot) SendHTMLMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.bot.Send(msg)

	return err
}

// ServeCommands отвечает на команды, пока ctx не отменён.
// Отвечает только в чаты из allowed.
func (b *Bot) ServeCommands(ctx context.Context, allowed []int64, status func() string) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)
	defer b.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			chatID := update.Message.Chat.ID
			if !contains(allowed, chatID) {
				b.logger.Warn("Command from unknown chat", slog.Int64("chat_id", chatID))
				continue
			}

			var reply string
			switch update.Message.Command() {
			case "status", "start":
				reply = status()
			default:
				reply = "Неизвестная команда. Доступно: /status"
			}

			if err := b.SendHTMLMessage(chatID, reply); err != nil {
				b.logger.Error("Failed to send reply", slog.Int64("chat_id", chatID), slog.Any("error", err))
			}
		}
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
