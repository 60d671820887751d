package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of *tgbotapi.BotAPI the notifier uses
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts events to the operators' chat
type TelegramNotifier struct {
	bot    MessageSender
	chatID int64
}

// NewTelegramNotifier connects to the Bot API with the given token
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatID), nil
}

// NewTelegramNotifierWithSender builds a notifier over an existing sender
func NewTelegramNotifierWithSender(bot MessageSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	if event.Type.Sensitive() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatMessage(event))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// FormatMessage renders an event as a short plain text chat message
func FormatMessage(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", event.Type)
	if event.Message != "" {
		fmt.Fprintf(&b, " %s", event.Message)
	}
	if event.UserID != 0 {
		fmt.Fprintf(&b, "\nUser: #%d", event.UserID)
	}
	if event.Amount != "" {
		fmt.Fprintf(&b, "\nAmount: %s", event.Amount)
	}
	if event.Reference != "" {
		fmt.Fprintf(&b, "\nReference: %s", event.Reference)
	}
	return b.String()
}
