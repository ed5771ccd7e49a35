package broker

import (
	"context"
	"strings"
	"time"

	"goaltrader/internal/trade"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	At     time.Time
}

// Mid falls back to Last when either side of the book is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}

// EntryPrice is the price a market order on side is expected to pay.
func (q Quote) EntryPrice(side trade.Side) decimal.Decimal {
	switch side.Direction() {
	case 1:
		if q.Ask.IsPositive() {
			return q.Ask
		}
	default:
		if q.Bid.IsPositive() {
			return q.Bid
		}
	}
	return q.Last
}

// Position quantities are signed: negative means short.
type Position struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	MarketValue   decimal.Decimal
}

type AccountState struct {
	Equity      decimal.Decimal
	LastEquity  decimal.Decimal
	Cash        decimal.Decimal
	BuyingPower decimal.Decimal
	Positions   []Position
	At          time.Time
}

func (s AccountState) Position(symbol string) (Position, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range s.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return Position{Symbol: symbol}, false
}

// GrossExposure sums absolute market values of all positions.
func (s AccountState) GrossExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.MarketValue.Abs())
	}
	return total
}

type OrderRequest struct {
	Symbol     string
	Side       trade.Side
	Quantity   decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	ClientID   string
}

type OrderResult struct {
	OrderID     string
	Status      string
	FilledPrice decimal.Decimal
	FilledQty   decimal.Decimal
}

type AccountReader interface {
	AccountState(ctx context.Context) (AccountState, error)
}

type Quoter interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// Broker is the trading venue. PlaceMarketOrder must be called at most once per action.
type Broker interface {
	AccountReader
	Quoter
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
