package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/logger"
	"goaltrader/internal/pkg/circuit"
	"goaltrader/internal/safety"
	"goaltrader/internal/store/execlog"
	"goaltrader/internal/trade"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecLog 是执行审计日志的写入端。
type ExecLog interface {
	Append(ctx context.Context, e execlog.Entry) (int64, error)
}

// SessionRef 把执行结果归档到 (goal_id, session_ts)。
type SessionRef struct {
	GoalID    string
	SessionID string
	StartedAt time.Time
}

type Option func(*Executor)

func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithBreaker(cb *circuit.CircuitBreaker) Option {
	return func(e *Executor) { e.breaker = cb }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// Executor 把通过校验的动作转换为一次券商市价单调用；失败不重试。
type Executor struct {
	broker  broker.Broker
	log     ExecLog
	breaker *circuit.CircuitBreaker
	timeout time.Duration
	nowFn   func() time.Time
}

func New(b broker.Broker, log ExecLog, opts ...Option) *Executor {
	e := &Executor{broker: b, log: log, timeout: 15 * time.Second, nowFn: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 下单并记录审计日志。返回值的 Status 总是 filled/failed/rejected 之一。
func (e *Executor) Execute(ctx context.Context, ref SessionRef, dec safety.Decision) trade.ExecutionResult {
	act := dec.Action
	scope := logger.With("goal", ref.GoalID, "session", ref.SessionID, "symbol", act.Symbol)
	if !act.Side.Valid() {
		return e.Reject(ctx, ref, act, fmt.Sprintf("unsupported order side %q", act.Side))
	}
	if !dec.Shares.IsPositive() {
		return e.Reject(ctx, ref, act, "order quantity must be positive")
	}
	req := broker.OrderRequest{
		Symbol:   act.Symbol,
		Side:     act.Side,
		Quantity: dec.Shares,
		ClientID: clientOrderID(ref, act),
	}
	if act.StopLoss != nil {
		v := decimal.NewFromFloat(*act.StopLoss)
		req.StopLoss = &v
	}
	if act.TakeProfit != nil {
		v := decimal.NewFromFloat(*act.TakeProfit)
		req.TakeProfit = &v
	}

	var out broker.OrderResult
	call := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		res, err := e.broker.PlaceMarketOrder(cctx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: place order %s after %s: %v", trade.ErrExternalTimeout, act.Symbol, e.timeout, err)
			}
			return fmt.Errorf("%w: %v", trade.ErrExecutionFailed, err)
		}
		out = res
		return nil
	}
	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(call)
	} else {
		err = call()
	}
	at := e.nowFn()
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			err = fmt.Errorf("%w: %v", trade.ErrExecutionFailed, err)
		}
		scope.Errorf("order %s failed: %v", act, err)
		res := trade.Failed(act, err, at)
		e.record(ctx, ref, res)
		return res
	}

	price := out.FilledPrice
	if !price.IsPositive() {
		price = dec.Price
	}
	qty := out.FilledQty
	if !qty.IsPositive() {
		qty = dec.Shares
	}
	fp, _ := price.Float64()
	fq, _ := qty.Float64()
	res := trade.ExecutionResult{
		Action:         act,
		Status:         trade.StatusFilled,
		FilledPrice:    fp,
		FilledQuantity: fq,
		BrokerOrderID:  out.OrderID,
		At:             at,
	}
	scope.Infof("order %s accepted id=%s status=%s qty=%s price=%s", act, out.OrderID, out.Status, qty.String(), price.StringFixed(2))
	e.record(ctx, ref, res)
	return res
}

// Reject 把校验或前置检查失败的动作记入审计日志，不触达券商。
func (e *Executor) Reject(ctx context.Context, ref SessionRef, act trade.Action, reason string) trade.ExecutionResult {
	res := trade.Rejected(act, reason, e.nowFn())
	logger.With("goal", ref.GoalID, "session", ref.SessionID, "symbol", act.Symbol).Warnf("action %s rejected: %s", act, reason)
	e.record(ctx, ref, res)
	return res
}

func (e *Executor) record(ctx context.Context, ref SessionRef, res trade.ExecutionResult) {
	if e.log == nil {
		return
	}
	// 审计写入不受调用方取消影响
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := e.log.Append(wctx, execlog.FromResult(ref.GoalID, ref.SessionID, ref.StartedAt, res)); err != nil {
		logger.Errorf("execution log append failed (goal=%s symbol=%s): %v", ref.GoalID, res.Action.Symbol, err)
	}
}

func clientOrderID(ref SessionRef, act trade.Action) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref.SessionID+"|"+act.Key())).String()
	return "gt-" + id[:18]
}
