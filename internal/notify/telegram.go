package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-telegram/bot"
)

const DefaultTelegramAPIBase = "https://api.telegram.org"

var ErrSenderConfig = errors.New("notify: bot token and chat id required")

// TelegramSender posts messages to one chat through the Bot API.
type TelegramSender struct {
	bot      *bot.Bot
	botToken string
	chatID   string
}

func NewTelegramSender(apiBase, botToken, chatID string) (*TelegramSender, error) {
	botToken = strings.TrimSpace(botToken)
	chatID = strings.TrimSpace(chatID)
	if botToken == "" || chatID == "" {
		return nil, ErrSenderConfig
	}
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = DefaultTelegramAPIBase
	}
	b, err := bot.New(botToken, bot.WithServerURL(apiBase), bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("notify: telegram client: %w", redact(err, botToken))
	}
	return &TelegramSender{bot: b, botToken: botToken, chatID: chatID}, nil
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("notify: telegram sendMessage: %w", redact(err, s.botToken))
	}
	return nil
}

// redact strips the request URL, which embeds the bot token, from transport
// errors.
func redact(err error, token string) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	if token != "" && strings.Contains(err.Error(), token) {
		return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
	}
	return err
}
