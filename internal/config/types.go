package config

import (
	"strings"

	"github.com/ecodeclub/ekit/slice"
)

// MaxLinks is the number of non-empty download links a saved document may hold.
const MaxLinks = 5

// Config is the persisted task document.
//
// It is read fresh before every run and written only through Store.Save.
// Unknown keys are ignored on read.
type Config struct {
	DownloadLinks   []string        `json:"download_links" yaml:"download_links"`
	Cron            string          `json:"cron" yaml:"cron"`
	SpeedLimit      string          `json:"speed_limit" yaml:"speed_limit"`
	DingTalkWebhook string          `json:"dingtalk_webhook" yaml:"dingtalk_webhook"`
	DingTalkSecret  string          `json:"dingtalk_secret" yaml:"dingtalk_secret"`
	Telegram        *TelegramConfig `json:"telegram,omitempty" yaml:"telegram,omitempty"`
}

// TelegramConfig is an optional second notification sink.
type TelegramConfig struct {
	Token    string `json:"token" yaml:"token"`
	ChatID   int64  `json:"chat_id" yaml:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
}

// Enabled reports whether the sink has enough data to send.
func (t *TelegramConfig) Enabled() bool {
	return t != nil && strings.TrimSpace(t.Token) != "" && t.ChatID != 0
}

// Default returns the document written on first start (or over a corrupt file).
func Default() *Config {
	return &Config{
		DownloadLinks: []string{
			"https://mirrors.tuna.tsinghua.edu.cn/archlinux/iso/2026.02.01/archlinux-x86_64.iso",
			"https://ftp.jaist.ac.jp/pub/Linux/debian-cd/13.3.0/amd64/iso-cd/debian-edu-13.3.0-amd64-netinst.iso",
			"https://mirrors.cloud.tencent.com/almalinux/10/BaseOS/x86_64/os/images/boot.iso",
		},
		Cron:       "0 2 * * *",
		SpeedLimit: string(TierUnlimited),
	}
}

// ValidLinks returns the trimmed, non-empty download links in their configured order.
func (c *Config) ValidLinks() []string {
	if c == nil {
		return nil
	}
	return slice.FilterMap(c.DownloadLinks, func(_ int, src string) (string, bool) {
		s := strings.TrimSpace(src)
		return s, s != ""
	})
}

// Tier resolves the configured speed limit; unknown names mean unlimited.
func (c *Config) Tier() SpeedLimitTier {
	if c == nil {
		return TierUnlimited
	}
	t, _ := ParseTier(c.SpeedLimit)
	return t
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.DownloadLinks != nil {
		cp.DownloadLinks = append([]string(nil), c.DownloadLinks...)
	}
	if c.Telegram != nil {
		tg := *c.Telegram
		cp.Telegram = &tg
	}
	return &cp
}
