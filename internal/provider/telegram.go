package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"
)

const (
	TypeTelegram      = "telegram"
	telegramTextLimit = 4096
)

// channelRecipient addresses a public channel by "@username".
type channelRecipient string

func (c channelRecipient) Recipient() string { return string(c) }

// TelegramConfig holds the bot used when a user's settings carry no
// "botToken" of their own.
type TelegramConfig struct {
	DefaultToken string
	APIURL       string
	Client       *http.Client
}

type telegramBots struct {
	cfg  TelegramConfig
	mu   sync.Mutex
	bots map[string]*tele.Bot
}

// get returns a cached offline bot for token. Offline skips the getMe call,
// so nothing touches the network until the first send.
func (t *telegramBots) get(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     t.cfg.APIURL,
		Token:   token,
		Client:  t.cfg.Client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}

func NewTelegram(cfg TelegramConfig) Provider {
	bots := &telegramBots{cfg: cfg, bots: map[string]*tele.Bot{}}
	return Provider{
		Type:          TypeTelegram,
		CredentialKey: "chatId",
		Send: func(ctx context.Context, msg Message, to Target) error {
			token := to.Setting("botToken")
			if token == "" {
				token = strings.TrimSpace(cfg.DefaultToken)
			}
			if token == "" {
				return fmt.Errorf("telegram: %w \"botToken\"", ErrMissingCredential)
			}
			rcpt, err := telegramRecipient(to.Credential)
			if err != nil {
				return Permanent(err)
			}
			bot, err := bots.get(token)
			if err != nil {
				return Permanent(fmt.Errorf("telegram: init bot: %w", err))
			}

			opts := &tele.SendOptions{DisableWebPagePreview: true}
			text := plainText(msg)
			if isMarkdown(msg.Format) {
				opts.ParseMode = tele.ModeMarkdown
			} else if strings.EqualFold(msg.Format, "html") {
				opts.ParseMode = tele.ModeHTML
			}
			if tid, err := strconv.Atoi(to.Setting("threadId")); err == nil && tid > 0 {
				opts.ThreadID = tid
			}
			if msg.URL != "" && !strings.Contains(text, msg.URL) {
				text += "\n" + msg.URL
			}
			if len(text) > telegramTextLimit {
				text = text[:telegramTextLimit-3] + "..."
			}

			// telebot has no context-aware send; honour cancellation around it.
			done := make(chan error, 1)
			go func() {
				_, err := bot.Send(rcpt, text, opts)
				done <- err
			}()
			select {
			case err := <-done:
				return classifyTelegram(err)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func telegramRecipient(chatID string) (tele.Recipient, error) {
	if strings.HasPrefix(chatID, "@") {
		return channelRecipient(chatID), nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chatId %q", chatID)
	}
	return tele.ChatID(id), nil
}

func classifyTelegram(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
		return Permanent(fmt.Errorf("telegram: %w", err))
	}
	return fmt.Errorf("telegram: %w", err)
}
