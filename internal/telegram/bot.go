package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/resilience"
)

// Status состояние автопилота для оператора
type Status struct {
	Mode       string
	Halted     bool
	HaltReason string
	LastCycle  time.Time
	Resources  int
	Actions    int
	Executed   int
	Rejected   int
	Failed     int
}

// Controller операции автопилота, доступные из чата
type Controller interface {
	Status() Status
	Breakers() []resilience.BreakerStatus
	Halt(reason string)
	Resume()
}

// Bot принимает команды оператора и рассылает оповещения
type Bot struct {
	*Notifier
	api        *tgbotapi.BotAPI
	chatID     int64
	controller Controller
	log        zerolog.Logger
}

// NewBot авторизуется в Telegram
func NewBot(cfg config.TelegramConfig, controller Controller, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b := &Bot{
		Notifier:   NewNotifier(api, cfg.ChatID, log),
		api:        api,
		chatID:     cfg.ChatID,
		controller: controller,
		log:        log.With().Str("component", "telegram").Logger(),
	}
	b.log.Info().Str("bot", api.Self.UserName).Msg("Telegram bot authorized")
	return b, nil
}

// Start обрабатывает входящие команды до отмены ctx
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Принимаем команды только из настроенного чата
			if update.Message.Chat.ID != b.chatID {
				b.log.Warn().Int64("chat_id", update.Message.Chat.ID).Msg("Unauthorized access attempt")
				continue
			}

			reply := HandleCommand(b.controller, update.Message.Command(), update.Message.CommandArguments())
			if err := b.Notify(ctx, reply); err != nil {
				b.log.Error().Err(err).Str("command", update.Message.Command()).Msg("Failed to reply")
			}
		}
	}
}

const helpText = `Lightning autopilot

/status - mode, halt flag and last cycle
/breakers - circuit breaker states
/halt [reason] - activate kill switch
/resume - deactivate kill switch`

// HandleCommand выполняет команду и возвращает текст ответа
func HandleCommand(c Controller, command, args string) string {
	switch command {
	case "start", "help":
		return helpText

	case "status":
		return FormatStatus(c.Status())

	case "breakers":
		return FormatBreakers(c.Breakers())

	case "halt":
		reason := strings.TrimSpace(args)
		if reason == "" {
			reason = "operator request"
		}
		c.Halt(reason)
		return FormatKillSwitch(true, reason)

	case "resume":
		c.Resume()
		return FormatKillSwitch(false, "")

	default:
		return "Unknown command. Use /help to see available commands."
	}
}
