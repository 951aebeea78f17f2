// Package telegram mirrors the moments that need the user's attention to a
// Telegram chat.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/session"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier implements ports.EventPublisher by sending chat messages for
// approval prompts, confirmed orders and failed submissions. Other events
// are ignored.
type Notifier struct {
	sender Sender
	chatID int64
	logger *slog.Logger
}

var _ ports.EventPublisher = (*Notifier)(nil)

// New connects to the Bot API with token.
func New(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	n := NewWithSender(api, chatID, logger)
	n.logger.Info("telegram notifier ready", slog.String("bot", api.Self.UserName))
	return n, nil
}

// NewWithSender creates a notifier on an existing sender.
func NewWithSender(sender Sender, chatID int64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger.With("component", "telegram"),
	}
}

// Publish sends a message for events worth a notification.
func (n *Notifier) Publish(ctx context.Context, event *domain.ActivityEvent) error {
	if event == nil {
		return nil
	}
	text := Format(event)
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	n.logger.Debug("telegram message sent",
		slog.String("type", string(event.Type)),
		slog.String("session_id", event.SessionID))
	return nil
}

// Close is a no-op; the Bot API client holds no connection.
func (n *Notifier) Close() error {
	return nil
}

// Format renders the chat text for event, or "" if the event is not sent.
func Format(event *domain.ActivityEvent) string {
	var b strings.Builder
	switch event.Type {
	case domain.ActivityApprovalRequested:
		b.WriteString("🍽 Your meal options are ready\n\n")
		b.WriteString(event.Text)
		var choices []session.MealChoice
		if len(event.Data) > 0 && json.Unmarshal(event.Data, &choices) == nil && len(choices) > 0 {
			b.WriteString("\n")
			for i, c := range choices {
				fmt.Fprintf(&b, "\n%d. %s", i+1, c.MenuItemName)
				if c.RestaurantName != "" {
					fmt.Fprintf(&b, " (%s)", c.RestaurantName)
				}
				if c.Price > 0 {
					fmt.Fprintf(&b, " $%.2f", c.Price)
				}
			}
		}
		b.WriteString("\n\nReply in the console to continue.")
	case domain.ActivityOrderConfirmed:
		b.WriteString("🎉 Order confirmed!\n\n")
		b.WriteString(event.Text)
	case domain.ActivityResponseFailed:
		b.WriteString("⚠️ Your response could not be submitted. Please try again.")
	default:
		return ""
	}
	if event.SessionID != "" {
		fmt.Fprintf(&b, "\n\nSession: %s", event.SessionID)
	}
	return b.String()
}
