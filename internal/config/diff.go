package config

import (
	"slices"
	"strings"

	logx "bwkeeper/pkg/logx"
)

// SummarizeChange returns the changed top-level keys and safe structured
// attrs for logging. Secrets and tokens are only reported as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 8)

	if !slices.Equal(oldCfg.ValidLinks(), newCfg.ValidLinks()) {
		changed = append(changed, "download_links")
		attrs = append(attrs, logx.Int("links", len(newCfg.ValidLinks())))
	}
	if strings.TrimSpace(oldCfg.Cron) != strings.TrimSpace(newCfg.Cron) {
		changed = append(changed, "cron")
		attrs = append(attrs, logx.String("cron", strings.TrimSpace(newCfg.Cron)))
	}
	if oldCfg.Tier() != newCfg.Tier() {
		changed = append(changed, "speed_limit")
		attrs = append(attrs, logx.String("speed_limit", newCfg.Tier().String()))
	}
	if strings.TrimSpace(oldCfg.DingTalkWebhook) != strings.TrimSpace(newCfg.DingTalkWebhook) ||
		strings.TrimSpace(oldCfg.DingTalkSecret) != strings.TrimSpace(newCfg.DingTalkSecret) {
		changed = append(changed, "dingtalk")
		attrs = append(attrs,
			logx.Bool("dingtalk.webhook_set", strings.TrimSpace(newCfg.DingTalkWebhook) != ""),
			logx.Bool("dingtalk.secret_set", strings.TrimSpace(newCfg.DingTalkSecret) != ""),
		)
	}
	if telegramKey(oldCfg.Telegram) != telegramKey(newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.enabled", newCfg.Telegram.Enabled()))
	}
	return changed, attrs
}

func telegramKey(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return TelegramConfig{Token: strings.TrimSpace(t.Token), ChatID: t.ChatID, ThreadID: t.ThreadID}
}
