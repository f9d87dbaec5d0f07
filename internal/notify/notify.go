// Package notify delivers fire-and-forget match notifications.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications to a single configured chat. Delivery errors
// are logged and swallowed; a poll run never blocks or fails on them.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier with the given bot token and
// target chat.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// Notify sends one notification.
func (t *Telegram) Notify(title, message string) {
	msg := tgbotapi.NewMessage(t.chatID, title+"\n"+message)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send notification", "chat_id", t.chatID, "error", err)
	}
}

// Discard is the notifier used when no delivery channel is configured.
type Discard struct{}

// Notify drops the notification.
func (Discard) Notify(string, string) {}
