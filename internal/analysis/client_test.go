package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/config"
	"goaltrader/internal/goal"
	"goaltrader/internal/trade"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	return Input{
		Goal: goal.Goal{
			ID:          "g-1",
			Kind:        goal.KindPortfolioGainPct,
			TargetValue: 10,
			Baseline:    goal.Metrics{Value: 100000, RiskPct: 30, CapturedAt: time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)},
			Description: "grow the book",
		},
		Progress:    42.5,
		Trend:       goal.TrendSteady,
		MarketLabel: "OPEN",
		Account: broker.AccountState{
			Equity:      decimal.NewFromInt(104250),
			LastEquity:  decimal.NewFromInt(104000),
			Cash:        decimal.NewFromInt(50000),
			BuyingPower: decimal.NewFromInt(100000),
			Positions: []broker.Position{
				{Symbol: "AAPL", Qty: decimal.NewFromInt(10), AvgEntryPrice: decimal.NewFromInt(190), MarketValue: decimal.NewFromInt(2000)},
				{Symbol: "NVDA", Qty: decimal.NewFromInt(100), AvgEntryPrice: decimal.NewFromInt(110), MarketValue: decimal.NewFromInt(12000)},
			},
		},
	}
}

func TestRenderPrompt(t *testing.T) {
	out := RenderPrompt(sampleInput())
	assert.Contains(t, out, "GOAL g-1: portfolio_gain_pct target=10 (grow the book)")
	assert.Contains(t, out, "Progress 42.50% trend=steady")
	assert.Contains(t, out, "day_pnl=250.00")
	assert.Contains(t, out, "Market: OPEN")
	// 按市值降序
	assert.Less(t, strings.Index(out, "- NVDA"), strings.Index(out, "- AAPL"))
}

func TestChatClient_Recommend(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"BUY 10 shares of AAPL"}}]}`))
	}))
	defer srv.Close()

	c := NewChatClient(config.AnalysisConfig{
		APIURL:  srv.URL + "/v1/chat/completions",
		APIKey:  "sk-test",
		Model:   "gpt-test",
		Headers: map[string]string{"X-Extra": "yes"},
	})
	text, err := c.Recommend(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "BUY 10 shares of AAPL", text)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "GOAL g-1")
}

func TestChatClient_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"HOLD"}}]}`))
	}))
	defer srv.Close()

	c := NewChatClient(config.AnalysisConfig{APIURL: srv.URL, MaxRetries: 2})
	text, err := c.Complete(context.Background(), "g", "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "HOLD", text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestChatClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewChatClient(config.AnalysisConfig{APIURL: srv.URL, MaxRetries: 1})
	_, err := c.Complete(context.Background(), "g", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
	assert.Contains(t, err.Error(), "slow down")
	assert.EqualValues(t, 2, calls.Load())
}

func TestChatClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewChatClient(config.AnalysisConfig{APIURL: srv.URL, MaxRetries: 3})
	_, err := c.Complete(context.Background(), "g", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.EqualValues(t, 1, calls.Load())
}

func TestChatClient_TimeoutIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewChatClient(config.AnalysisConfig{APIURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "g", "", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, trade.ErrExternalTimeout)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3", 0))
	assert.Equal(t, 800*time.Millisecond, retryAfter("", 0))
	assert.Equal(t, 1600*time.Millisecond, retryAfter("junk", 1))
	assert.Equal(t, 8*time.Second, retryAfter("", 6))
}
