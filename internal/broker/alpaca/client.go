package alpaca

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/logger"
	"goaltrader/internal/market"
	"goaltrader/internal/trade"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type Config struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	DataURL           string
	RequestsPerMinute int
}

// Client 适配 Alpaca 交易与行情接口。SDK 的调用不接受 ctx，
// 这里统一放进 goroutine 并在 ctx 结束时放弃等待。
type Client struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *rate.Limiter
}

var _ broker.Broker = (*Client)(nil)
var _ market.Clock = (*Client)(nil)
var _ market.BarSource = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("alpaca: api key/secret required")
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 180
	}
	burst := rpm / 20
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.DataURL,
		}),
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), burst),
	}
	logger.Infof("Alpaca client ready base=%s rpm=%d", cfg.BaseURL, rpm)
	return c, nil
}

// call 限速后在独立 goroutine 中执行 fn，ctx 取消时立即返回。
func call[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("alpaca %s: %w", op, err)
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("alpaca %s: %w", op, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return zero, fmt.Errorf("alpaca %s: %w", op, r.err)
		}
		return r.v, nil
	}
}

func (c *Client) AccountState(ctx context.Context) (broker.AccountState, error) {
	acct, err := call(ctx, c, "get account", c.trading.GetAccount)
	if err != nil {
		return broker.AccountState{}, err
	}
	positions, err := call(ctx, c, "get positions", c.trading.GetPositions)
	if err != nil {
		return broker.AccountState{}, err
	}
	state := broker.AccountState{
		Equity:      acct.Equity,
		LastEquity:  acct.LastEquity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
		At:          time.Now().UTC(),
	}
	for _, p := range positions {
		price := p.AvgEntryPrice
		if last, err := c.lastPrice(ctx, p.Symbol); err == nil && last.IsPositive() {
			price = last
		} else if err != nil {
			logger.Warnf("alpaca: latest trade for %s unavailable, valuing at entry: %v", p.Symbol, err)
		}
		state.Positions = append(state.Positions, broker.Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
			MarketValue:   p.Qty.Mul(price),
		})
	}
	return state, nil
}

func (c *Client) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := call(ctx, c, "latest trade", func() (*marketdata.Trade, error) {
		return c.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	})
	if err != nil {
		return decimal.Zero, err
	}
	if t == nil {
		return decimal.Zero, fmt.Errorf("no trade for %s", symbol)
	}
	return decimal.NewFromFloat(t.Price), nil
}

func (c *Client) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q, err := call(ctx, c, "latest quote", func() (*marketdata.Quote, error) {
		return c.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	})
	if err != nil {
		return broker.Quote{}, err
	}
	if q == nil {
		return broker.Quote{}, fmt.Errorf("alpaca latest quote: empty quote for %s", symbol)
	}
	out := broker.Quote{
		Symbol: symbol,
		Bid:    decimal.NewFromFloat(q.BidPrice),
		Ask:    decimal.NewFromFloat(q.AskPrice),
		At:     q.Timestamp,
	}
	if last, err := c.lastPrice(ctx, symbol); err == nil {
		out.Last = last
	}
	return out, nil
}

// PlaceMarketOrder 只提交一次；止损与止盈同时给出时以 bracket 单附带。
func (c *Client) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	side, err := orderSide(req.Side)
	if err != nil {
		return broker.OrderResult{}, err
	}
	qty := req.Quantity
	order := alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(req.Symbol),
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientID,
	}
	if req.StopLoss != nil && req.TakeProfit != nil {
		order.OrderClass = alpaca.Bracket
		order.StopLoss = &alpaca.StopLoss{StopPrice: req.StopLoss}
		order.TakeProfit = &alpaca.TakeProfit{LimitPrice: req.TakeProfit}
	}
	placed, err := call(ctx, c, "place order", func() (*alpaca.Order, error) {
		return c.trading.PlaceOrder(order)
	})
	if err != nil {
		return broker.OrderResult{}, err
	}
	out := broker.OrderResult{
		OrderID:   placed.ID,
		Status:    placed.Status,
		FilledQty: placed.FilledQty,
	}
	if placed.FilledAvgPrice != nil {
		out.FilledPrice = *placed.FilledAvgPrice
	}
	return out, nil
}

// Status 使用 /v2/clock；只对"当前时刻"有意义，at 仅用于日志。
func (c *Client) Status(ctx context.Context, _ time.Time) (market.Status, error) {
	clock, err := call(ctx, c, "get clock", c.trading.GetClock)
	if err != nil {
		return market.Status{}, err
	}
	st := market.Status{
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
		Label:     "CLOSED",
	}
	if clock.IsOpen {
		st.Label = "OPEN"
		st.TradingDay = true
	}
	return st, nil
}

// DailyBars 取最近 limit 根复权日线；按自然日回溯 limit*2 天以覆盖周末与假日。
func (c *Client) DailyBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	if limit <= 0 {
		limit = 100
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	end := time.Now().UTC()
	bars, err := call(ctx, c, "daily bars", func() ([]marketdata.Bar, error) {
		return c.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      end.AddDate(0, 0, -limit*2),
			End:        end,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, market.Bar{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return out, nil
}

func orderSide(side trade.Side) (alpaca.Side, error) {
	switch side {
	case trade.SideBuy, trade.SideBuyToCover:
		return alpaca.Buy, nil
	case trade.SideSell, trade.SideSellShort:
		return alpaca.Sell, nil
	default:
		return "", fmt.Errorf("alpaca: unsupported order side %q", side)
	}
}
