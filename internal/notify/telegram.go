package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/szludo_wallet/pkg/logger"
)

const apiTimeout = 5 * time.Second

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers events as bot messages to the user's chat.
type Telegram struct {
	api sender
}

func NewTelegram(token string) (*Telegram, error) {
	client := &http.Client{Timeout: apiTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	logger.Info("Telegram notifier authorized", "username", api.Self.UserName)
	return &Telegram{api: api}, nil
}

// Notify gives up when ctx ends. The bot API call has no context of its own,
// so an abandoned send finishes in the background, bounded by the client
// timeout.
func (t *Telegram) Notify(ctx context.Context, event Event) error {
	if event.ChatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(event.ChatID, Text(event))
	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send %s notification: %w", event.Kind, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s notification abandoned: %w", event.Kind, ctx.Err())
	}
}
