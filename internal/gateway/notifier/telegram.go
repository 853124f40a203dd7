package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram 通知器：把告警推送至指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	// APIBase 默认 https://api.telegram.org，测试时指向本地服务。
	APIBase    string
	Client     *http.Client
	MaxRetries uint64
	RetryWait  time.Duration
}

func NewTelegram(botToken, chatID, apiBase string) *Telegram {
	return &Telegram{
		BotToken:   strings.TrimSpace(botToken),
		ChatID:     strings.TrimSpace(chatID),
		APIBase:    apiBase,
		Client:     &http.Client{Timeout: 15 * time.Second},
		MaxRetries: 2,
		RetryWait:  time.Second,
	}
}

// SendText 发送 Markdown 文本；5xx、429 与网络错误会重试。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t == nil || t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram notifier not configured")
	}
	base := strings.TrimRight(strings.TrimSpace(t.APIBase), "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	policy := backoff.NewExponentialBackOff()
	if t.RetryWait > 0 {
		policy.InitialInterval = t.RetryWait
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, t.MaxRetries), ctx)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		err = fmt.Errorf("telegram status=%d: %s", resp.StatusCode, gjson.GetBytes(raw, "description").String())
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}
