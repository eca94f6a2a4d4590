package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bwkeeper/internal/config"
)

// DingTalkTitle prefixes every DingTalk message.
const DingTalkTitle = "【Bandwidth Keeper】"

// DingTalk posts to a signed custom-robot webhook.
type DingTalk struct {
	client *http.Client
	now    func() time.Time
}

func NewDingTalk(client *http.Client) *DingTalk {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &DingTalk{client: client, now: time.Now}
}

func (d *DingTalk) Name() string { return "dingtalk" }

func (d *DingTalk) Configured(cfg *config.Config) bool {
	return cfg != nil && strings.TrimSpace(cfg.DingTalkWebhook) != "" && strings.TrimSpace(cfg.DingTalkSecret) != ""
}

// SignDingTalk computes the url-escaped sign parameter for ts (unix millis).
func SignDingTalk(secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10) + "\n" + secret))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

type dingTalkText struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type dingTalkReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *DingTalk) Send(ctx context.Context, cfg *config.Config, text string) error {
	webhook := strings.TrimSpace(cfg.DingTalkWebhook)
	ts := d.now().UnixMilli()
	sep := "&"
	if !strings.Contains(webhook, "?") {
		sep = "?"
	}
	target := webhook + sep + "timestamp=" + strconv.FormatInt(ts, 10) + "&sign=" + SignDingTalk(strings.TrimSpace(cfg.DingTalkSecret), ts)

	var msg dingTalkText
	msg.MsgType = "text"
	msg.Text.Content = DingTalkTitle + "\n" + text
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dingtalk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk post: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dingtalk status %d", resp.StatusCode)
	}
	var reply dingTalkReply
	if json.Unmarshal(raw, &reply) == nil && reply.ErrCode != 0 {
		return fmt.Errorf("dingtalk errcode %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}
