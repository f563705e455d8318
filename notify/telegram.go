package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram sends messages through the Bot API sendMessage method
type Telegram struct {
	bot     *bot.Bot
	limiter *rate.Limiter
}

// NewTelegram creates a Bot API notifier. Sends are throttled to one per
// second with a small burst, under the API's per-chat limit.
func NewTelegram(apiBase, token string) (*Telegram, error) {
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}
	b, err := bot.New(token,
		bot.WithServerURL(strings.TrimRight(apiBase, "/")),
		bot.WithSkipGetMe(),
	)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}, nil
}

// Send posts text to the chat identified by recipientID. Markdown the API
// cannot parse is delivered again as plain text.
func (t *Telegram) Send(ctx context.Context, recipientID, text string, format Format) error {
	if recipientID == "" {
		return ErrNoRecipient
	}

	err := t.send(ctx, recipientID, text, parseMode(format))
	if err != nil && format != FormatPlain && isEntityError(err) {
		logger.WithField("error", err).Warn("telegram rejected the markup, resending as plain text")
		err = t.send(ctx, recipientID, text, "")
	}
	return err
}

func (t *Telegram) send(ctx context.Context, chatID, text string, mode tgmodels.ParseMode) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: mode,
	})
	if err != nil {
		// the request URL carries the token; keep it out of logs
		return fmt.Errorf("telegram: %w", unwrapURLError(err))
	}
	logger.WithField("chat", chatID).Debug("telegram message sent")
	return nil
}

func parseMode(f Format) tgmodels.ParseMode {
	if f == FormatMarkdown {
		return tgmodels.ParseModeMarkdownV1
	}
	return ""
}

func isEntityError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
