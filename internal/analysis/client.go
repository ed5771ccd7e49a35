package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"goaltrader/internal/config"
	"goaltrader/internal/logger"
	"goaltrader/internal/trade"

	"github.com/go-resty/resty/v2"
)

// Engine 产出一段推荐文本（自由文本或包含 JSON 块），交给 recommend.Parser 解析。
type Engine interface {
	Recommend(ctx context.Context, in Input) (string, error)
}

// ChatClient 兼容 OpenAI / DeepSeek / Qwen 的 /chat/completions 接口。
type ChatClient struct {
	http         *resty.Client
	provider     string
	model        string
	temperature  float64
	systemPrompt string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewChatClient(cfg config.AnalysisConfig) *ChatClient {
	// 用户可能把完整的 /chat/completions 写进了配置，这里统一去掉再追加
	base := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	httpc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	// 429/5xx 有限重试：优先 Retry-After，否则 0.8s 起指数退避
	httpc.SetRetryCount(max(cfg.MaxRetries, 0)).
		SetRetryWaitTime(800 * time.Millisecond).
		SetRetryMaxWaitTime(time.Minute).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			return retryAfter(resp.Header().Get("Retry-After"), resp.Request.Attempt-1), nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err == nil && resp != nil && retryable(resp.StatusCode())
		}).
		AddRetryHook(func(resp *resty.Response, _ error) {
			if resp != nil {
				logger.Warnf("analysis %s: status=%d, retrying (attempt %d)", cfg.Provider, resp.StatusCode(), resp.Request.Attempt)
			}
		})
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		httpc.SetAuthToken(key)
	}
	for k, v := range cfg.Headers {
		httpc.SetHeader(k, v)
	}
	system := strings.TrimSpace(cfg.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &ChatClient{
		http:         httpc,
		provider:     provider,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: system,
	}
}

func (c *ChatClient) Recommend(ctx context.Context, in Input) (string, error) {
	user := RenderPrompt(in)
	return c.Complete(ctx, in.Goal.ID, c.systemPrompt, user)
}

// Complete 发送一次对话补全；重试由 resty 按 retryable 条件完成。
func (c *ChatClient) Complete(ctx context.Context, goalID, systemPrompt, userPrompt string) (string, error) {
	body := chatRequest{Model: c.model, Temperature: c.temperature}
	if systemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: userPrompt})
	logger.LogAnalysisRequest(c.provider, goalID, systemPrompt, userPrompt, fmt.Sprintf("model=%s temperature=%g", c.model, c.temperature))

	var (
		out  chatResponse
		eout chatError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&eout).
		Post("/chat/completions")
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w: analysis engine: %v", trade.ErrExternalTimeout, err)
		}
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	if !resp.IsSuccess() {
		msg := strings.TrimSpace(eout.Error.Message)
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("analysis status=%d after %d attempt(s): %s", resp.StatusCode(), resp.Request.Attempt, msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("analysis response has no choices")
	}
	content := out.Choices[0].Message.Content
	logger.LogAnalysisResponse(c.provider, goalID, content)
	return content, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter 优先使用服务端给出的秒数，否则 0.8s 起指数退避，上限 8s。
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	wait := (800 * time.Millisecond) << attempt
	if wait > 8*time.Second {
		wait = 8 * time.Second
	}
	return wait
}
