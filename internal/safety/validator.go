package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/config"
	"goaltrader/internal/market"
	"goaltrader/internal/trade"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// 检查项名称，按执行顺序排列。
const (
	CheckAction   = "action"
	CheckSizing   = "sizing"
	CheckPosition = "position_size"
	CheckRisk     = "risk"
	CheckSpread   = "spread"
	CheckSession  = "market_session"
)

// Rejection 是校验失败的结果，errors.Is(err, trade.ErrValidationRejected) 成立。
type Rejection struct {
	Check  string
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func (r *Rejection) Unwrap() error { return trade.ErrValidationRejected }

func reject(check, format string, args ...any) (Decision, error) {
	return Decision{}, &Rejection{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection 取出拒绝详情。
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Decision 是通过校验后的下单参数。
type Decision struct {
	Action      trade.Action
	Shares      decimal.Decimal
	Price       decimal.Decimal
	PositionPct float64
	RiskPct     float64
	SpreadPct   float64
}

// LimitsSource 提供当前生效的阈值；热更新的 loader 与固定配置都满足它。
type LimitsSource interface {
	Limits() config.SafetyLimits
}

type StaticLimits config.SafetyLimits

func (s StaticLimits) Limits() config.SafetyLimits { return config.SafetyLimits(s) }

type Validator struct {
	limits LimitsSource
	clock  market.Clock
	nowFn  func() time.Time
}

func NewValidator(limits LimitsSource, clock market.Clock) *Validator {
	return &Validator{limits: limits, clock: clock, nowFn: time.Now}
}

// WithClock 替换时间源，测试用。
func (v *Validator) WithClock(now func() time.Time) *Validator {
	if now != nil {
		v.nowFn = now
	}
	return v
}

// Validate 依次执行：数量解析、仓位上限、止损风险、点差、交易时段；遇到第一个失败即返回。
// 动作从不被静默缩减，任何不满足都以 *Rejection 返回。
func (v *Validator) Validate(ctx context.Context, act trade.Action, state broker.AccountState, quote broker.Quote) (Decision, error) {
	limits := v.limits.Limits()
	if err := act.Check(); err != nil {
		return reject(CheckAction, "%s: %v", act.Symbol, err)
	}
	equity := state.Equity
	if !equity.IsPositive() {
		return reject(CheckSizing, "account equity is %s, cannot size %s", equity.StringFixed(2), act.Symbol)
	}
	price := quote.EntryPrice(act.Side)
	if !price.IsPositive() {
		return reject(CheckSizing, "%s: no usable price in quote", act.Symbol)
	}
	pos, _ := state.Position(act.Symbol)

	// 1. 数量
	shares, err := resolveShares(act, pos.Qty, equity, price, limits)
	if err != nil {
		return Decision{}, err
	}

	// 2. 仓位占比：只约束扩大敞口的订单，超限仓位仍可减仓
	resulting := pos.Qty.Add(shares.Mul(decimal.NewFromInt(int64(act.Side.Direction()))))
	positionPct := resulting.Abs().Mul(price).Div(equity).Mul(hundred)
	grows := resulting.Abs().GreaterThan(pos.Qty.Abs())
	if grows && positionPct.GreaterThan(decimal.NewFromFloat(limits.MaxPositionSize)) {
		return reject(CheckPosition, "%s position would be %s%% of equity, limit %g%%",
			act.Symbol, positionPct.StringFixed(2), limits.MaxPositionSize)
	}

	// 3. 风险
	opening := openingShares(act.Side, pos.Qty, shares)
	riskPct := decimal.Zero
	if opening.IsPositive() {
		stop := defaultStop(act.Side, price, limits.DefaultStopDistancePct)
		if act.StopLoss != nil {
			stop = decimal.NewFromFloat(*act.StopLoss)
			long := act.Side == trade.SideBuy
			if long && !stop.LessThan(price) {
				return reject(CheckRisk, "%s stop loss %s is not below entry %s", act.Symbol, stop.String(), price.StringFixed(2))
			}
			if !long && !stop.GreaterThan(price) {
				return reject(CheckRisk, "%s stop loss %s is not above entry %s", act.Symbol, stop.String(), price.StringFixed(2))
			}
		}
		riskPct = price.Sub(stop).Abs().Mul(opening).Div(equity).Mul(hundred)
		if riskPct.GreaterThan(decimal.NewFromFloat(limits.MaxRiskPercent)) {
			return reject(CheckRisk, "%s risk %s%% of equity exceeds limit %g%%",
				act.Symbol, riskPct.StringFixed(2), limits.MaxRiskPercent)
		}
	}

	// 4. 点差
	if !quote.Bid.IsPositive() || !quote.Ask.IsPositive() {
		return reject(CheckSpread, "%s has no two-sided quote", act.Symbol)
	}
	spreadPct := quote.Ask.Sub(quote.Bid).Div(quote.Mid()).Mul(hundred)
	if spreadPct.GreaterThan(decimal.NewFromFloat(limits.MaxSpreadPct)) {
		return reject(CheckSpread, "%s spread %s%% exceeds limit %g%%", act.Symbol, spreadPct.StringFixed(3), limits.MaxSpreadPct)
	}

	// 5. 交易时段
	if !limits.AllowOutsideHours {
		if v.clock == nil {
			return reject(CheckSession, "no market calendar configured")
		}
		st, err := v.clock.Status(ctx, v.nowFn())
		if err != nil {
			return reject(CheckSession, "market status unavailable: %v", err)
		}
		if !st.IsOpen {
			return reject(CheckSession, "market closed (%s)", st.Label)
		}
	}

	pp, _ := positionPct.Float64()
	rp, _ := riskPct.Float64()
	sp, _ := spreadPct.Float64()
	return Decision{
		Action:      act,
		Shares:      shares,
		Price:       price,
		PositionPct: pp,
		RiskPct:     rp,
		SpreadPct:   sp,
	}, nil
}

// held 返回该方向上已有的股数：多头方向看正仓位，空头方向看负仓位。
func held(side trade.Side, qty decimal.Decimal) decimal.Decimal {
	switch side {
	case trade.SideBuy, trade.SideSell:
		if qty.IsPositive() {
			return qty
		}
	default:
		if qty.IsNegative() {
			return qty.Neg()
		}
	}
	return decimal.Zero
}

func resolveShares(act trade.Action, posQty, equity, price decimal.Decimal, limits config.SafetyLimits) (decimal.Decimal, error) {
	have := held(act.Side, posQty)
	var shares decimal.Decimal
	switch {
	case act.Quantity != nil:
		shares = decimal.NewFromFloat(*act.Quantity)
	case act.TargetAllocationPct != nil:
		target := equity.Mul(decimal.NewFromFloat(*act.TargetAllocationPct)).Div(hundred).Div(price).Floor()
		if act.Side.Opens() {
			shares = target.Sub(have)
		} else {
			shares = have.Sub(target)
		}
		if !shares.IsPositive() {
			_, err := reject(CheckSizing, "%s already at target allocation %g%% (%s shares held, target %s)",
				act.Symbol, *act.TargetAllocationPct, have.String(), target.String())
			return decimal.Zero, err
		}
	case act.Side.Opens():
		shares = equity.Mul(decimal.NewFromFloat(limits.DefaultOrderPct)).Div(hundred).Div(price).Floor()
	default:
		shares = have
	}
	if !shares.IsPositive() {
		_, err := reject(CheckSizing, "%s %s resolves to zero shares", act.Side, act.Symbol)
		return decimal.Zero, err
	}
	if !act.Side.Opens() && shares.GreaterThan(have) {
		what := "long position"
		if act.Side == trade.SideBuyToCover {
			what = "short position"
		}
		_, err := reject(CheckSizing, "%s %s shares exceeds %s of %s", act.Symbol, shares.String(), what, have.String())
		return decimal.Zero, err
	}
	return shares, nil
}

// openingShares 计算会新增风险敞口的部分；平仓部分不计风险。
func openingShares(side trade.Side, posQty, shares decimal.Decimal) decimal.Decimal {
	switch side {
	case trade.SideBuy:
		if posQty.IsNegative() {
			return decimal.Max(decimal.Zero, shares.Sub(posQty.Neg()))
		}
		return shares
	case trade.SideSellShort:
		if posQty.IsPositive() {
			return decimal.Max(decimal.Zero, shares.Sub(posQty))
		}
		return shares
	}
	return decimal.Zero
}

func defaultStop(side trade.Side, price decimal.Decimal, distancePct float64) decimal.Decimal {
	dist := price.Mul(decimal.NewFromFloat(distancePct)).Div(hundred)
	if side == trade.SideSellShort {
		return price.Add(dist)
	}
	return price.Sub(dist)
}
