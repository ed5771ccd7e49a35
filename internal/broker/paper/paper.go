package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/trade"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Broker 是内存撮合的模拟券商：按报价的 ask/bid 立即成交，不做部分成交。
// 行情来自注入的 Quoter（通常是真实行情源），或通过 SetQuote 手工设置。
type Broker struct {
	mu         sync.Mutex
	cash       decimal.Decimal
	lastEquity decimal.Decimal
	day        string
	positions  map[string]*broker.Position
	quotes     map[string]broker.Quote
	feed       broker.Quoter
	loc        *time.Location
	nowFn      func() time.Time
}

var _ broker.Broker = (*Broker)(nil)

type Option func(*Broker)

func WithQuoter(q broker.Quoter) Option {
	return func(b *Broker) { b.feed = q }
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.nowFn = now
		}
	}
}

func New(cash float64, opts ...Option) *Broker {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	b := &Broker{
		cash:      decimal.NewFromFloat(cash),
		positions: make(map[string]*broker.Position),
		quotes:    make(map[string]broker.Quote),
		loc:       loc,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastEquity = b.cash
	b.day = b.nowFn().In(loc).Format("2006-01-02")
	return b
}

// SetQuote 覆盖某个代码的报价。
func (b *Broker) SetQuote(q broker.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q.Symbol = strings.ToUpper(q.Symbol)
	if q.Last.IsZero() {
		q.Last = q.Mid()
	}
	b.quotes[q.Symbol] = q
}

// SetPosition 直接设置持仓，用于导入既有组合或测试。
func (b *Broker) SetPosition(symbol string, qty, avg float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	b.positions[symbol] = &broker.Position{
		Symbol:        symbol,
		Qty:           decimal.NewFromFloat(qty),
		AvgEntryPrice: decimal.NewFromFloat(avg),
	}
}

func (b *Broker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if b.feed != nil {
		q, err := b.feed.Quote(ctx, symbol)
		if err == nil {
			b.mu.Lock()
			b.quotes[symbol] = q
			b.mu.Unlock()
			return q, nil
		}
		b.mu.Lock()
		cached, ok := b.quotes[symbol]
		b.mu.Unlock()
		if ok {
			return cached, nil
		}
		return broker.Quote{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return broker.Quote{}, fmt.Errorf("paper: no quote for %s", symbol)
	}
	return q, nil
}

func (b *Broker) AccountState(ctx context.Context) (broker.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return broker.AccountState{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn()
	equity := b.equityLocked()
	if day := now.In(b.loc).Format("2006-01-02"); day != b.day {
		b.day = day
		b.lastEquity = equity
	}
	state := broker.AccountState{
		Equity:      equity,
		LastEquity:  b.lastEquity,
		Cash:        b.cash,
		BuyingPower: decimal.Max(decimal.Zero, b.cash),
		At:          now.UTC(),
	}
	for _, p := range b.positions {
		cp := *p
		cp.MarketValue = p.Qty.Mul(b.markLocked(p))
		state.Positions = append(state.Positions, cp)
	}
	sort.Slice(state.Positions, func(i, j int) bool { return state.Positions[i].Symbol < state.Positions[j].Symbol })
	return state, nil
}

func (b *Broker) equityLocked() decimal.Decimal {
	equity := b.cash
	for _, p := range b.positions {
		equity = equity.Add(p.Qty.Mul(b.markLocked(p)))
	}
	return equity
}

func (b *Broker) markLocked(p *broker.Position) decimal.Decimal {
	if q, ok := b.quotes[p.Symbol]; ok {
		if mid := q.Mid(); mid.IsPositive() {
			return mid
		}
	}
	return p.AvgEntryPrice
}

func (b *Broker) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if !req.Side.Valid() {
		return broker.OrderResult{}, fmt.Errorf("paper: unsupported order side %q", req.Side)
	}
	if !req.Quantity.IsPositive() {
		return broker.OrderResult{}, fmt.Errorf("paper: quantity must be positive")
	}
	q, err := b.Quote(ctx, req.Symbol)
	if err != nil {
		return broker.OrderResult{}, err
	}
	price := q.EntryPrice(req.Side)
	if !price.IsPositive() {
		return broker.OrderResult{}, fmt.Errorf("paper: no executable price for %s", req.Symbol)
	}
	if err := ctx.Err(); err != nil {
		return broker.OrderResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	symbol := strings.ToUpper(req.Symbol)
	pos, ok := b.positions[symbol]
	if !ok {
		pos = &broker.Position{Symbol: symbol}
	}
	signed := req.Quantity
	if req.Side.Direction() < 0 {
		signed = signed.Neg()
	}
	cost := signed.Mul(price)
	if signed.IsPositive() && req.Side == trade.SideBuy && cost.GreaterThan(b.cash) {
		return broker.OrderResult{}, fmt.Errorf("paper: insufficient buying power (need %s, have %s)", cost.StringFixed(2), b.cash.StringFixed(2))
	}
	newQty := pos.Qty.Add(signed)
	// 同向加仓时更新均价；减仓保持均价；穿越零轴时按新方向重置
	switch {
	case pos.Qty.IsZero() || pos.Qty.Sign() == signed.Sign():
		total := pos.Qty.Abs().Mul(pos.AvgEntryPrice).Add(req.Quantity.Mul(price))
		pos.AvgEntryPrice = total.Div(newQty.Abs())
	case newQty.Sign() != pos.Qty.Sign() && !newQty.IsZero():
		pos.AvgEntryPrice = price
	}
	pos.Qty = newQty
	b.cash = b.cash.Sub(cost)
	if pos.Qty.IsZero() {
		delete(b.positions, symbol)
	} else {
		b.positions[symbol] = pos
	}
	return broker.OrderResult{
		OrderID:     "paper-" + uuid.NewString(),
		Status:      "filled",
		FilledPrice: price,
		FilledQty:   req.Quantity,
	}, nil
}
