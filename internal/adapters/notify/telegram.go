// Package notify delivers trade alerts to a Telegram chat.
package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Sender is the part of *bot.Bot used to post alerts.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram implements domain.Notifier.
type Telegram struct {
	sender Sender
	chatID int64
	dryRun bool
	logger *zap.Logger
}

type Config struct {
	BotToken string
	ChatID   int64
	DryRun   bool
	// ServerURL overrides the Bot API endpoint.
	ServerURL string
}

// NewTelegram connects a bot for cfg.BotToken. In dry-run mode no bot is
// created and alerts are only logged.
func NewTelegram(cfg Config, logger *zap.Logger) (*Telegram, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DryRun {
		return &Telegram{chatID: cfg.ChatID, dryRun: true, logger: logger}, nil
	}
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram bot token and chat id are required")
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	return NewTelegramWithSender(b, cfg.ChatID, logger), nil
}

func NewTelegramWithSender(s Sender, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{sender: s, chatID: chatID, logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if t.dryRun {
		t.logger.Info("dry run alert", zap.Int64("chat_id", t.chatID), zap.String("text", text))
		return nil
	}

	msg, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		return errors.Wrap(err, "send telegram alert")
	}
	t.logger.Info("alert sent", zap.Int64("chat_id", t.chatID), zap.Int("message_id", msg.ID))
	return nil
}
