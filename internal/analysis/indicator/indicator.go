package indicator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"

	"goaltrader/internal/market"
)

// ErrNotEnoughBars 表示日线数量不足以计算最长周期的指标。
var ErrNotEnoughBars = errors.New("not enough bars")

// Settings 描述计算指标所需的最小配置。
type Settings struct {
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	ATRPeriod int
}

// DefaultSettings 适用于日线。
var DefaultSettings = Settings{EMAFast: 20, EMASlow: 50, RSIPeriod: 14, ATRPeriod: 14}

// Value 保存单个指标的最新值与状态。
type Value struct {
	Latest float64 `json:"latest"`
	State  string  `json:"state,omitempty"`
}

// Report 汇总单个代码的日线指标。
type Report struct {
	Symbol  string `json:"symbol"`
	Count   int    `json:"count"`
	Close   float64 `json:"close"`
	EMAFast Value `json:"ema_fast"`
	EMASlow Value `json:"ema_slow"`
	RSI     Value `json:"rsi"`
	MACD    Value `json:"macd"`
	ATRPct  Value `json:"atr_pct"`
	ROC     Value `json:"roc"`
}

// Compute 计算 EMA/RSI/MACD/ATR/ROC；数量不足最慢 EMA 时返回 ErrNotEnoughBars。
func Compute(symbol string, bars []market.Bar, cfg Settings) (Report, error) {
	if cfg.EMAFast <= 0 {
		cfg.EMAFast = DefaultSettings.EMAFast
	}
	if cfg.EMASlow <= 0 {
		cfg.EMASlow = DefaultSettings.EMASlow
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = DefaultSettings.RSIPeriod
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = DefaultSettings.ATRPeriod
	}
	rep := Report{Symbol: symbol, Count: len(bars)}
	if len(bars) < cfg.EMASlow+1 || len(bars) < 35 {
		return rep, fmt.Errorf("%w: %s has %d, need %d", ErrNotEnoughBars, symbol, len(bars), max(cfg.EMASlow+1, 35))
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}
	last := closes[len(closes)-1]
	rep.Close = round4(last)

	fast := lastValid(talib.Ema(closes, cfg.EMAFast))
	slow := lastValid(talib.Ema(closes, cfg.EMASlow))
	rep.EMAFast = Value{Latest: round4(fast), State: relativeState(last, fast)}
	rep.EMASlow = Value{Latest: round4(slow), State: relativeState(last, slow)}

	rsi := lastValid(talib.Rsi(closes, cfg.RSIPeriod))
	rsiState := "neutral"
	switch {
	case rsi >= 70:
		rsiState = "overbought"
	case rsi <= 30:
		rsiState = "oversold"
	}
	rep.RSI = Value{Latest: round4(rsi), State: rsiState}

	_, _, hist := talib.Macd(closes, 12, 26, 9)
	h := lastValid(hist)
	macdState := "flat"
	switch {
	case h > 0:
		macdState = "bullish"
	case h < 0:
		macdState = "bearish"
	}
	rep.MACD = Value{Latest: round4(h), State: macdState}

	atr := lastValid(talib.Atr(highs, lows, closes, cfg.ATRPeriod))
	if last > 0 {
		rep.ATRPct = Value{Latest: round4(atr / last * 100), State: "volatility"}
	}

	roc := lastValid(talib.Roc(closes, 10))
	rep.ROC = Value{Latest: round4(roc), State: polarityState(roc)}
	return rep, nil
}

// Line 渲染成单行提示词片段。
func (r Report) Line() string {
	parts := []string{
		fmt.Sprintf("close=%.2f", r.Close),
		fmt.Sprintf("ema_fast=%.2f(%s)", r.EMAFast.Latest, r.EMAFast.State),
		fmt.Sprintf("ema_slow=%.2f(%s)", r.EMASlow.Latest, r.EMASlow.State),
		fmt.Sprintf("rsi=%.1f(%s)", r.RSI.Latest, r.RSI.State),
		fmt.Sprintf("macd_hist=%.3f(%s)", r.MACD.Latest, r.MACD.State),
		fmt.Sprintf("atr=%.2f%%", r.ATRPct.Latest),
		fmt.Sprintf("roc10=%.2f%%", r.ROC.Latest),
	}
	return r.Symbol + " " + strings.Join(parts, " ")
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func polarityState(v float64) string {
	switch {
	case v > 0:
		return "positive"
	case v < 0:
		return "negative"
	default:
		return "flat"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
