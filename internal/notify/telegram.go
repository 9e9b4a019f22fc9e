package notify

import (
	"context"
	"fmt"

	"propsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the bot API used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts a job summary to a chat.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
	logger zerolog.Logger
}

// NewTelegramBot authorizes the bot token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramNotifier(bot Sender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger.With().Str("component", "notify_telegram").Logger(),
	}
}

func (n *TelegramNotifier) JobFinished(_ context.Context, job *models.SyncJob) error {
	msg := tgbotapi.NewMessage(n.chatID, FormatJobSummary(job))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram summary: %w", err)
	}
	n.logger.Debug().Str("sync_id", job.SyncID).Int64("chat_id", n.chatID).Msg("Sync summary sent")
	return nil
}
