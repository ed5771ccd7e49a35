package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goaltrader/internal/logger"
	"goaltrader/internal/scheduler"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

// TextNotifier 是最小的文本推送接口。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

type Telegram struct {
	token  string
	chatID string
	http   *resty.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return newTelegram(telegramAPI, botToken, chatID)
}

func newTelegram(baseURL, botToken, chatID string) *Telegram {
	return &Telegram{
		token:  strings.TrimSpace(botToken),
		chatID: strings.TrimSpace(chatID),
		http:   resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
	}
}

// SendText 发送 Markdown 文本（带最多 3 次重试）
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.token == "" || t.chatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	var lastErr error
	for i := 0; i < 3; i++ {
		resp, err := t.http.R().
			SetContext(ctx).
			SetBody(payload).
			Post("/bot" + t.token + "/sendMessage")
		switch {
		case err != nil:
			lastErr = err
		case resp.IsSuccess():
			return nil
		default:
			lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode())
		}
		if i == 2 {
			break
		}
		if err := scheduler.Sleep(ctx, time.Duration(i+1)*time.Second); err != nil {
			return err
		}
	}
	return lastErr
}

// TextSink 把事件渲染成 Markdown 交给 TextNotifier；发送失败只记录告警。
type TextSink struct {
	Notifier TextNotifier
	// Kinds 为空时推送全部事件
	Kinds []Kind
}

func (s TextSink) Notify(ctx context.Context, ev Event) {
	if s.Notifier == nil || !s.wants(ev.Kind) {
		return
	}
	if err := s.Notifier.SendText(ctx, MessageFor(ev).RenderMarkdown()); err != nil {
		logger.With("goal_id", ev.GoalID).Warnf("notify %s failed: %v", ev.Kind, err)
	}
}

func (s TextSink) wants(k Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, want := range s.Kinds {
		if want == k {
			return true
		}
	}
	return false
}
