// Package notify forwards import failures to operators over Telegram.
package notify

import (
	"fmt"
	"strings"
	"time"

	"pharmsync/internal/domain"
	"pharmsync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier sends a short message to every configured chat when a pass or a
// task fails. Bursts beyond the limiter are logged and dropped.
type Notifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewNotifier(sender domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "notify").Logger()
	return &Notifier{
		sender:  sender,
		chatIDs: chatIDs,
		limiter: rate.NewLimiter(rate.Every(time.Second), 10),
		logger:  &l,
	}
}

// NewBotSender connects to the Telegram Bot API.
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

// Subscribe registers the notifier on the failure events of bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventImportPassFailed, n.onPassFailed)
	bus.Subscribe(events.EventImportTaskFailed, n.onTaskFailed)
}

func (n *Notifier) onPassFailed(e *events.Event) error {
	var p events.PassEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Import pass failed: %s on %s\n", p.Entity, p.BackendName)
	if !p.From.IsZero() {
		fmt.Fprintf(&b, "Range: %s .. %s\n", p.From.UTC().Format(time.RFC3339), p.To.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Windows done: %d, tasks submitted: %d\n", p.Windows, p.Submitted)
	fmt.Fprintf(&b, "Error: %s", p.Error)
	return n.broadcast(b.String())
}

func (n *Notifier) onTaskFailed(e *events.Event) error {
	var p events.TaskEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("Import task failed after %d attempts: %s %s (backend %d)\nError: %s",
		p.Retries, p.Entity, p.RemoteID, p.BackendID, p.Error)
	return n.broadcast(text)
}

func (n *Notifier) broadcast(text string) error {
	if !n.limiter.Allow() {
		n.logger.Warn().Msg("notification dropped by rate limit")
		return nil
	}
	var firstErr error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send notification")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
