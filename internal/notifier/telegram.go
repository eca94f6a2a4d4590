package notifier

import (
	"context"
	"net/http"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"bwkeeper/internal/config"
)

const telegramTextLimit = 4096

// Telegram sends through the Bot API. The bot never polls; it is rebuilt
// only when the token changes.
type Telegram struct {
	apiURL string
	client *http.Client

	mu    sync.Mutex
	token string
	bot   *tele.Bot
}

// NewTelegram uses apiURL as the Bot API root ("" for the public API).
func NewTelegram(apiURL string, client *http.Client) *Telegram {
	return &Telegram{apiURL: apiURL, client: client}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Configured(cfg *config.Config) bool {
	return cfg != nil && cfg.Telegram.Enabled()
}

func (t *Telegram) botFor(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil && t.token == token {
		return t.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     t.apiURL,
		Token:   token,
		Client:  t.client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	t.bot, t.token = b, token
	return b, nil
}

func (t *Telegram) Send(ctx context.Context, cfg *config.Config, text string) error {
	tg := cfg.Telegram
	b, err := t.botFor(strings.TrimSpace(tg.Token))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rs := []rune(text); len(rs) > telegramTextLimit {
		text = string(rs[:telegramTextLimit])
	}
	_, err = b.Send(&tele.Chat{ID: tg.ChatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              tg.ThreadID,
	})
	return err
}
