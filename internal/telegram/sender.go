// Package telegram delivers signals to a chat and answers read-only
// operational commands. No control commands are accepted: the bot can tell
// you what the engine thinks, never change what it does.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/risk"
)

const ParseModeMarkdown = "Markdown"

// API is the slice of the bot client the sender needs. Satisfied by
// *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender emits signals to a single chat. Sends are rate limited, retried on
// transient errors and wrapped in the telegram circuit breaker; Markdown is
// tried first and downgraded to plain text on parse errors.
type Sender struct {
	log      zerolog.Logger
	api      API
	chatID   int64
	limiter  *rate.Limiter
	breakers *risk.BreakerManager
	retries  int
	backoff  time.Duration
}

func NewSender(log zerolog.Logger, api API, chatID int64, breakers *risk.BreakerManager) *Sender {
	return &Sender{
		log:      log.With().Str("component", "telegram_sender").Logger(),
		api:      api,
		chatID:   chatID,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		breakers: breakers,
		retries:  3,
		backoff:  500 * time.Millisecond,
	}
}

// EmitSignal sends the signal text and, when present, the chart link as a
// second message. The chart link is best-effort: its failure does not fail
// the emission.
func (s *Sender) EmitSignal(ctx context.Context, msg decision.SignalMessage) error {
	if err := s.sendText(ctx, msg.Text, ParseModeMarkdown); err != nil {
		return fmt.Errorf("failed to emit signal for %s: %w", msg.Symbol, err)
	}
	if msg.ChartURL != "" {
		if err := s.sendText(ctx, msg.ChartURL, ""); err != nil {
			s.log.Warn().Err(err).Str("symbol", msg.Symbol).Msg("Failed to send chart link")
		}
	}
	return nil
}

// SendText delivers a plain operational message (daily reports, transition
// notices).
func (s *Sender) SendText(ctx context.Context, text string) error {
	return s.sendText(ctx, text, "")
}

// NotifyTransition satisfies fsm.Notifier. The machine dispatches notifiers
// off the transition path, so a slow chat send cannot stall the FSM.
func (s *Sender) NotifyTransition(t fsm.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	text := fmt.Sprintf("State change: %s -> %s (%s)", t.From, t.To, t.Reason)
	if err := s.SendText(ctx, text); err != nil {
		s.log.Warn().Err(err).Str("to", t.To.String()).Msg("Failed to send transition notice")
	}
}

func (s *Sender) sendText(ctx context.Context, text, parseMode string) error {
	var lastErr error
	mode := parseMode
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = s.trySend(text, mode)
		if lastErr == nil {
			return nil
		}
		if isParseError(lastErr) && mode != "" {
			// Markdown rejected: retry immediately as plain text.
			mode = ""
			continue
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
	return lastErr
}

func (s *Sender) trySend(text, parseMode string) error {
	send := func() error {
		msg := tgbotapi.NewMessage(s.chatID, text)
		msg.ParseMode = parseMode
		msg.DisableWebPagePreview = true
		_, err := s.api.Send(msg)
		return err
	}
	if s.breakers == nil {
		return send()
	}
	_, err := s.breakers.ExecuteTelegram(func() (interface{}, error) {
		return nil, send()
	})
	return err
}

func isParseError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "temporar", "connection", "too many requests", "retry after", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
