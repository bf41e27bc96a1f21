package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/paper"
	"github.com/marketvigil/vigil/internal/state"
)

// UpdatesAPI is the slice of the bot client the command loop needs.
type UpdatesAPI interface {
	API
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Deps are the read-only views the command handlers render. The bot never
// writes engine state.
type Deps struct {
	Sys         *state.SystemState
	Machine     *fsm.Machine
	Guardian    *guardian.SystemGuardian
	Core        *decision.Core
	Sizer       *decision.PositionSizer
	Ledger      *paper.Ledger
	BalanceUSD  float64
	BaseRiskPct float64
}

// CommandHandler renders one command's reply text.
type CommandHandler func(ctx context.Context, bot *Bot, message *tgbotapi.Message) (string, error)

// Bot answers operational queries over long polling.
type Bot struct {
	log           zerolog.Logger
	api           UpdatesAPI
	deps          Deps
	allowedChatID int64
	pollTimeout   int
	handlers      map[string]CommandHandler
}

// NewBot builds the bot with the default read-only handler set.
// allowedChatID of zero answers any chat.
func NewBot(log zerolog.Logger, api UpdatesAPI, deps Deps, allowedChatID int64) *Bot {
	b := &Bot{
		log:           log.With().Str("component", "telegram_bot").Logger(),
		api:           api,
		deps:          deps,
		allowedChatID: allowedChatID,
		pollTimeout:   30,
		handlers:      make(map[string]CommandHandler),
	}
	b.registerDefaultHandlers()
	return b
}

func (b *Bot) registerDefaultHandlers() {
	b.RegisterHandler("start", handleHelp)
	b.RegisterHandler("help", handleHelp)
	b.RegisterHandler("should_i_trade", handleShouldITrade)
	b.RegisterHandler("risk_status", handleRiskStatus)
	b.RegisterHandler("invest", handleInvest)
	b.RegisterHandler("market_regime", handleMarketRegime)
	b.RegisterHandler("risk_exposure", handleRiskExposure)
	b.RegisterHandler("cognitive", handleCognitive)
	b.RegisterHandler("opportunities", handleOpportunities)
	b.RegisterHandler("stats", handleStats)
	b.RegisterHandler("status", handleStatus)
	b.RegisterHandler("trades", handleTrades)
	b.RegisterHandler("signals", handleSignals)
	b.RegisterHandler("gatekeeper", handleGatekeeper)
}

// RegisterHandler registers or overrides a command handler.
func (b *Bot) RegisterHandler(command string, handler CommandHandler) {
	b.handlers[command] = handler
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.log.Info().Msg("Starting Telegram bot in polling mode")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Telegram bot shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.HandleMessage(ctx, update.Message)
		}
	}
}

// HandleMessage dispatches one inbound message and sends the reply.
func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if b.allowedChatID != 0 && message.Chat.ID != b.allowedChatID {
		b.log.Warn().Int64("chat_id", message.Chat.ID).Msg("Ignoring message from unauthorized chat")
		return
	}
	if !message.IsCommand() {
		b.reply(message.Chat.ID, "Please use /help to see available commands.")
		return
	}

	command := message.Command()
	b.log.Info().Str("command", command).Int64("chat_id", message.Chat.ID).Msg("Received command")

	handler, exists := b.handlers[command]
	if !exists {
		b.reply(message.Chat.ID, "Unknown command. Use /help to see available commands.")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text, err := handler(ctx, b, message)
	if err != nil {
		b.log.Error().Err(err).Str("command", command).Msg("Command handler failed")
		b.reply(message.Chat.ID, fmt.Sprintf("Error executing command: %v", err))
		return
	}
	b.reply(message.Chat.ID, text)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error().Err(err).Msg("Failed to send reply")
	}
}
