// Package telegram is the Telegram channel adapter: long-polling intake, one
// blocking agent turn per inbound message, plain-text replies.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/gateway"
	"github.com/hearthd/hearth/internal/storage"
)

const historyWindow = 20

// Bot bridges Telegram chats to the gateway.
type Bot struct {
	api     *bot.Bot
	gateway *gateway.Gateway
	history storage.HistoryStore

	householdID string
	inactivity  config.AgentConfig

	logger *slog.Logger
}

// New builds the adapter. The bot token comes from configuration; an empty
// token is a setup error surfaced here rather than at first poll.
func New(cfg config.TelegramConfig, agentCfg config.AgentConfig, gw *gateway.Gateway, history storage.HistoryStore, logger *slog.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		gateway:     gw,
		history:     history,
		householdID: cfg.HouseholdID,
		inactivity:  agentCfg,
		logger:      logger.With("component", "telegram"),
	}
	api, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b.api = api
	return b, nil
}

// Start long-polls until the context is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("telegram polling started", "household", b.householdID)
	b.api.Start(ctx)
}

func (b *Bot) handleUpdate(ctx context.Context, api *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	userID := "tg:" + strconv.FormatInt(update.Message.From.ID, 10)
	text := update.Message.Text

	history, err := b.history.Recent(ctx, b.householdID, userID, historyWindow, b.inactivity.SessionInactivity)
	if err != nil {
		b.logger.Warn("history read failed", "user", userID, "error", err)
	}

	reply, err := b.gateway.Process(ctx, gateway.Request{
		HouseholdID: b.householdID,
		UserID:      userID,
		Message:     text,
		History:     history,
	}, nil)
	if err != nil {
		b.logger.Error("telegram turn failed", "user", userID, "error", err)
		reply = nil
	}

	out := "Sorry, something went wrong. Please try again."
	if reply != nil {
		out = reply.Message
	}
	if _, err := api.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: out}); err != nil {
		b.logger.Warn("telegram send failed", "chat", chatID, "error", err)
	}
}
