package notificator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"

	"github.com/custos-labs/everro/pkg/logger"
)

// sendTimeout bounds a single message delivery
const sendTimeout = 10 * time.Second

// TelegramNotificator sends alerts to a single fixed chat.
type TelegramNotificator struct {
	logger *logger.Logger
	bot    *bot.Bot
	chatID string
}

func NewTelegramNotificator(logger *logger.Logger, token, chatID string) (*TelegramNotificator, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramNotificator{
		logger: logger,
		bot:    b,
		chatID: chatID,
	}, nil
}

func (t *TelegramNotificator) SendNotification(message string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	params := &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   message,
	}
	_, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		t.logger.Error("Failed to send notification: ", err)
	}
}
