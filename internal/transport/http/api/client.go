package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// Client 是命令行使用的 /api 客户端，返回原始 JSON 交给调用方渲染。
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{http: resty.New().SetBaseURL(base).SetTimeout(timeout).SetHeader("Content-Type", "application/json")}
}

// APIError 携带服务端返回的状态码与 error 字段。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status=%d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		msg := gjson.GetBytes(resp.Body(), "error").String()
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return nil, &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return resp.Body(), nil
}

type CreateGoalBody struct {
	Kind                string  `json:"kind"`
	TargetValue         float64 `json:"target_value"`
	DailyTradingEnabled *bool   `json:"daily_trading_enabled,omitempty"`
	Description         string  `json:"description,omitempty"`
	Deadline            string  `json:"deadline,omitempty"`
}

func (c *Client) CreateGoal(ctx context.Context, body CreateGoalBody) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/goals", nil, body)
}

func (c *Client) ListGoals(ctx context.Context, statuses ...string) ([]byte, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	return c.do(ctx, http.MethodGet, "/api/goals", q, nil)
}

func (c *Client) Summary(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/goals/summary", nil, nil)
}

func (c *Client) Leaderboard(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/goals/leaderboard", nil, nil)
}

func (c *Client) Progress(ctx context.Context, id string, history int) ([]byte, error) {
	q := url.Values{}
	if history > 0 {
		q.Set("history", fmt.Sprint(history))
	}
	return c.do(ctx, http.MethodGet, "/api/goals/"+url.PathEscape(id), q, nil)
}

func (c *Client) Chart(ctx context.Context, id string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/goals/"+url.PathEscape(id)+"/chart", nil, nil)
}

// GoalAction 调用 stop/pause/resume/run。
func (c *Client) GoalAction(ctx context.Context, id, action, reason string) ([]byte, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return c.do(ctx, http.MethodPost, "/api/goals/"+url.PathEscape(id)+"/"+action, nil, body)
}

func (c *Client) Queue(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/queue", nil, nil)
}

func (c *Client) Submit(ctx context.Context, description, goalID, priority string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/queue", nil, map[string]string{
		"description": description, "goal_id": goalID, "priority": priority,
	})
}

func (c *Client) Drain(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/queue/drain", nil, nil)
}

func (c *Client) Cancel(ctx context.Context, taskID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(taskID), nil, nil)
	return err
}

func (c *Client) Executions(ctx context.Context, q url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/executions", q, nil)
}

func (c *Client) EngineStates(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/engine/states", nil, nil)
}
