package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/pkg/circuit"
	"goaltrader/internal/safety"
	"goaltrader/internal/store/execlog"
	"goaltrader/internal/trade"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) AccountState(ctx context.Context) (broker.AccountState, error) {
	args := m.Called(ctx)
	return args.Get(0).(broker.AccountState), args.Error(1)
}

func (m *MockBroker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(broker.Quote), args.Error(1)
}

func (m *MockBroker) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(broker.OrderResult), args.Error(1)
}

func newLog(t *testing.T) *execlog.Store {
	t.Helper()
	s, err := execlog.NewStore(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var ref = SessionRef{GoalID: "g1", SessionID: "s1", StartedAt: time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)}

func decision(side trade.Side, sym string, shares, price float64) safety.Decision {
	return safety.Decision{
		Action: trade.Action{Side: side, Symbol: sym, Quantity: trade.Float(shares), Reason: "test reason"},
		Shares: decimal.NewFromFloat(shares),
		Price:  decimal.NewFromFloat(price),
	}
}

func TestExecuteFilledWritesLog(t *testing.T) {
	b := new(MockBroker)
	log := newLog(t)
	b.On("PlaceMarketOrder", mock.Anything, mock.MatchedBy(func(req broker.OrderRequest) bool {
		return req.Symbol == "NVDA" && req.Side == trade.SideBuy && req.Quantity.Equal(decimal.NewFromInt(10)) && req.ClientID != ""
	})).Return(broker.OrderResult{OrderID: "ord-1", Status: "accepted"}, nil).Once()

	ex := New(b, log)
	res := ex.Execute(context.Background(), ref, decision(trade.SideBuy, "NVDA", 10, 120))
	assert.Equal(t, trade.StatusFilled, res.Status)
	assert.Equal(t, 120.0, res.FilledPrice)
	assert.Equal(t, 10.0, res.FilledQuantity)
	assert.Equal(t, "ord-1", res.BrokerOrderID)
	b.AssertExpectations(t)

	entries, err := log.List(context.Background(), execlog.Query{GoalID: "g1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "filled", entries[0].Status)
	assert.Equal(t, "test reason", entries[0].Reason)
	assert.Equal(t, ref.StartedAt.Unix(), entries[0].SessionTS)
}

func TestExecuteBrokerErrorIsNotRetried(t *testing.T) {
	b := new(MockBroker)
	b.On("PlaceMarketOrder", mock.Anything, mock.Anything).
		Return(broker.OrderResult{}, errors.New("insufficient buying power")).Once()

	res := New(b, newLog(t)).Execute(context.Background(), ref, decision(trade.SideBuy, "AAPL", 5, 200))
	assert.Equal(t, trade.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "insufficient buying power")
	b.AssertNumberOfCalls(t, "PlaceMarketOrder", 1)
}

func TestExecuteTimeout(t *testing.T) {
	b := new(MockBroker)
	b.On("PlaceMarketOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(broker.OrderResult{}, context.DeadlineExceeded).Once()

	res := New(b, newLog(t), WithTimeout(20*time.Millisecond)).
		Execute(context.Background(), ref, decision(trade.SideSell, "AAPL", 5, 200))
	assert.Equal(t, trade.StatusFailed, res.Status)
	assert.Contains(t, res.Error, trade.ErrExternalTimeout.Error())
}

func TestExecuteRejectsUnknownSideBeforeBroker(t *testing.T) {
	b := new(MockBroker)
	log := newLog(t)
	dec := decision("hold", "AAPL", 5, 200)
	res := New(b, log).Execute(context.Background(), ref, dec)
	assert.Equal(t, trade.StatusRejected, res.Status)
	b.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything)

	entries, err := log.List(context.Background(), execlog.Query{GoalID: "g1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rejected", entries[0].Status)
}

func TestExecuteBreakerFailsFast(t *testing.T) {
	b := new(MockBroker)
	b.On("PlaceMarketOrder", mock.Anything, mock.Anything).
		Return(broker.OrderResult{}, errors.New("503 service unavailable")).Twice()
	cb := circuit.NewCircuitBreaker("broker", 2, time.Hour)
	ex := New(b, nil, WithBreaker(cb))

	for i := 0; i < 2; i++ {
		res := ex.Execute(context.Background(), ref, decision(trade.SideBuy, "AAPL", 1, 10))
		assert.Equal(t, trade.StatusFailed, res.Status)
	}
	res := ex.Execute(context.Background(), ref, decision(trade.SideBuy, "MSFT", 1, 10))
	assert.Equal(t, trade.StatusFailed, res.Status)
	assert.Contains(t, res.Error, circuit.ErrOpen.Error())
	b.AssertNumberOfCalls(t, "PlaceMarketOrder", 2)
}
