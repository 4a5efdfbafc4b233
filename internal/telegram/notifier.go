package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender часть tgbotapi.BotAPI, нужная для отправки сообщений
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier отправляет оповещения оператору в один чат
type Notifier struct {
	sender Sender
	chatID int64
	log    zerolog.Logger
}

// NewNotifier создает оповещатель поверх готового Sender
func NewNotifier(sender Sender, chatID int64, log zerolog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		log:    log.With().Str("component", "telegram").Logger(),
	}
}

// Notify отправляет текст без разметки
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		n.log.Error().Err(err).Msg("Failed to send notification")
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// NopNotifier используется, когда Telegram не настроен
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }
