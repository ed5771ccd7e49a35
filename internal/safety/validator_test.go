package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/config"
	"goaltrader/internal/market"
	"goaltrader/internal/trade"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	st  market.Status
	err error
}

func (c fixedClock) Status(context.Context, time.Time) (market.Status, error) { return c.st, c.err }

var openClock = fixedClock{st: market.Status{IsOpen: true, Label: "OPEN"}}

func limits() config.SafetyLimits {
	return config.SafetyLimits{
		MaxPositionSize:        20,
		MaxRiskPercent:         2,
		MaxSpreadPct:           0.5,
		DefaultStopDistancePct: 5,
		DefaultOrderPct:        5,
	}
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func account(positions ...broker.Position) broker.AccountState {
	return broker.AccountState{Equity: d(100000), LastEquity: d(99000), Cash: d(50000), Positions: positions}
}

func quote(sym string, bid, ask float64) broker.Quote {
	return broker.Quote{Symbol: sym, Bid: d(bid), Ask: d(ask), Last: d((bid + ask) / 2)}
}

func rejectionCheck(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trade.ErrValidationRejected))
	r, ok := AsRejection(err)
	require.True(t, ok)
	return r.Check
}

func TestValidateExplicitQuantityPasses(t *testing.T) {
	v := NewValidator(StaticLimits(limits()), openClock)
	act := trade.Action{Side: trade.SideBuy, Symbol: "NVDA", Quantity: trade.Float(100), StopLoss: trade.Float(95)}
	dec, err := v.Validate(context.Background(), act, account(), quote("NVDA", 99.95, 100))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(100)))
	assert.True(t, dec.Price.Equal(d(100)))
	assert.InDelta(t, 10.0, dec.PositionPct, 1e-9)
	assert.InDelta(t, 0.5, dec.RiskPct, 1e-9)
}

func TestValidateRejectsRiskEvenWhenPositionFits(t *testing.T) {
	v := NewValidator(StaticLimits(limits()), openClock)
	// 仓位 15% < 20%，但止损距离 20% × 150 股 = 3% > 2%
	act := trade.Action{Side: trade.SideBuy, Symbol: "NVDA", Quantity: trade.Float(150), StopLoss: trade.Float(80)}
	_, err := v.Validate(context.Background(), act, account(), quote("NVDA", 99.95, 100))
	assert.Equal(t, CheckRisk, rejectionCheck(t, err))
}

func TestValidateTrimsOversizedPosition(t *testing.T) {
	v := NewValidator(StaticLimits(limits()), openClock)
	held := broker.Position{Symbol: "AAPL", Qty: d(400), AvgEntryPrice: d(90)}
	// 40% → 30%：仍高于 20% 上限，但在减仓
	act := trade.Action{Side: trade.SideSell, Symbol: "AAPL", Quantity: trade.Float(100)}
	dec, err := v.Validate(context.Background(), act, account(held), quote("AAPL", 99.95, 100))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(100)))
	assert.InDelta(t, 29.99, dec.PositionPct, 0.01)

	// 继续加仓仍被拒绝
	act = trade.Action{Side: trade.SideBuy, Symbol: "AAPL", Quantity: trade.Float(1), StopLoss: trade.Float(99)}
	_, err = v.Validate(context.Background(), act, account(held), quote("AAPL", 99.95, 100))
	assert.Equal(t, CheckPosition, rejectionCheck(t, err))
}

func TestValidateDefaultStopDistance(t *testing.T) {
	l := limits()
	l.MaxRiskPercent = 0.5
	v := NewValidator(StaticLimits(l), openClock)
	// 默认止损 5%：100 股 × $5 = $500 = 0.5% 恰好通过
	act := trade.Action{Side: trade.SideBuy, Symbol: "NVDA", Quantity: trade.Float(100)}
	_, err := v.Validate(context.Background(), act, account(), quote("NVDA", 99.95, 100))
	require.NoError(t, err)
	act.Quantity = trade.Float(101)
	_, err = v.Validate(context.Background(), act, account(), quote("NVDA", 99.95, 100))
	assert.Equal(t, CheckRisk, rejectionCheck(t, err))
}

func TestValidateChecksInOrder(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(StaticLimits(limits()), openClock)

	cases := []struct {
		name  string
		act   trade.Action
		state broker.AccountState
		q     broker.Quote
		check string
	}{
		{"bad side", trade.Action{Side: "hold", Symbol: "AAPL"}, account(), quote("AAPL", 99.9, 100), CheckAction},
		{"no equity", trade.Action{Side: trade.SideBuy, Symbol: "AAPL"}, broker.AccountState{}, quote("AAPL", 99.9, 100), CheckSizing},
		{"sell without position", trade.Action{Side: trade.SideSell, Symbol: "AAPL"}, account(), quote("AAPL", 99.9, 100), CheckSizing},
		{"sell more than held", trade.Action{Side: trade.SideSell, Symbol: "AAPL", Quantity: trade.Float(20)},
			account(broker.Position{Symbol: "AAPL", Qty: d(10)}), quote("AAPL", 99.9, 100), CheckSizing},
		{"position too large", trade.Action{Side: trade.SideBuy, Symbol: "AAPL", Quantity: trade.Float(300), StopLoss: trade.Float(99.5)},
			account(), quote("AAPL", 99.9, 100), CheckPosition},
		{"stop above entry", trade.Action{Side: trade.SideBuy, Symbol: "AAPL", Quantity: trade.Float(10), StopLoss: trade.Float(101)},
			account(), quote("AAPL", 99.9, 100), CheckRisk},
		{"wide spread", trade.Action{Side: trade.SideBuy, Symbol: "AAPL", Quantity: trade.Float(10)},
			account(), quote("AAPL", 98, 100), CheckSpread},
		{"one-sided quote", trade.Action{Side: trade.SideBuy, Symbol: "AAPL", Quantity: trade.Float(10)},
			account(), broker.Quote{Symbol: "AAPL", Last: d(100)}, CheckSpread},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tc.act, tc.state, tc.q)
			assert.Equal(t, tc.check, rejectionCheck(t, err))
		})
	}
}

func TestValidateMarketSession(t *testing.T) {
	act := trade.Action{Side: trade.SideBuy, Symbol: "AAPL", Quantity: trade.Float(10)}
	closed := fixedClock{st: market.Status{Label: "CLOSED - Weekend"}}

	_, err := NewValidator(StaticLimits(limits()), closed).Validate(context.Background(), act, account(), quote("AAPL", 99.9, 100))
	assert.Equal(t, CheckSession, rejectionCheck(t, err))
	assert.Contains(t, err.Error(), "Weekend")

	_, err = NewValidator(StaticLimits(limits()), fixedClock{err: errors.New("clock down")}).
		Validate(context.Background(), act, account(), quote("AAPL", 99.9, 100))
	assert.Equal(t, CheckSession, rejectionCheck(t, err))

	l := limits()
	l.AllowOutsideHours = true
	_, err = NewValidator(StaticLimits(l), closed).Validate(context.Background(), act, account(), quote("AAPL", 99.9, 100))
	assert.NoError(t, err)
}

func TestValidateTargetAllocation(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(StaticLimits(limits()), openClock)
	holding := account(broker.Position{Symbol: "AAPL", Qty: d(400), MarketValue: d(40000)})

	// 40% -> 0%：卖出全部 400 股
	act := trade.Action{Side: trade.SideSell, Symbol: "AAPL", TargetAllocationPct: trade.Float(0)}
	dec, err := v.Validate(ctx, act, holding, quote("AAPL", 100, 100.1))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(400)))
	assert.Zero(t, dec.RiskPct)

	// 40% -> 10%：目标 floor(10000/100)=100 股，卖 300
	act.TargetAllocationPct = trade.Float(10)
	dec, err = v.Validate(ctx, act, holding, quote("AAPL", 100, 100.1))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(300)))

	// 买到 5%：目标 floor(5000/100.1)=49 股
	buy := trade.Action{Side: trade.SideBuy, Symbol: "MSFT", TargetAllocationPct: trade.Float(5)}
	dec, err = v.Validate(ctx, buy, holding, quote("MSFT", 100, 100.1))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(49)))

	// 已超过目标时买入被拒绝
	buy.Symbol = "AAPL"
	_, err = v.Validate(ctx, buy, holding, quote("AAPL", 100, 100.1))
	assert.Equal(t, CheckSizing, rejectionCheck(t, err))
}

func TestValidateDefaultSizing(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(StaticLimits(limits()), openClock)

	dec, err := v.Validate(ctx, trade.Action{Side: trade.SideBuy, Symbol: "NVDA"}, account(), quote("NVDA", 249.9, 250))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(20)), dec.Shares.String()) // 5% of 100k / 250

	short := account(broker.Position{Symbol: "SPY", Qty: d(-30), MarketValue: d(-15000)})
	dec, err = v.Validate(ctx, trade.Action{Side: trade.SideBuyToCover, Symbol: "SPY"}, short, quote("SPY", 499.9, 500))
	require.NoError(t, err)
	assert.True(t, dec.Shares.Equal(d(30)))

	_, err = v.Validate(ctx, trade.Action{Side: trade.SideBuyToCover, Symbol: "SPY", Quantity: trade.Float(31)}, short, quote("SPY", 499.9, 500))
	assert.Equal(t, CheckSizing, rejectionCheck(t, err))
}
