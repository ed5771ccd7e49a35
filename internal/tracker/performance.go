package tracker

import (
	"fmt"
	"time"

	"goaltrader/internal/goal"
)

// 绩效只看最近一周的交易日，与每日一次的节奏对齐。
const (
	performanceWindow  = 7 * 24 * time.Hour
	performanceLookup  = 30
	lowWinRate         = 0.4
	highWinRate        = 0.7
	deadlineWarnWithin = 7 * 24 * time.Hour
)

// Performance 汇总窗口内的会话：胜率按盈利会话占比计算。
type Performance struct {
	TradingDays   int     `json:"trading_days"`
	TotalTrades   int     `json:"total_trades"`
	WinRate       float64 `json:"win_rate"`
	AverageProfit float64 `json:"average_profit"`
	TotalProfit   float64 `json:"total_profit"`
}

// performanceOf 只统计 since 之后开始的会话；sessions 顺序无关。
func performanceOf(sessions []goal.Session, since time.Time) Performance {
	var (
		perf Performance
		wins int
	)
	for _, s := range sessions {
		if s.StartedAt.Before(since) {
			continue
		}
		perf.TradingDays++
		perf.TotalTrades += s.ActionsExecuted
		perf.TotalProfit += s.ProfitLoss
		if s.ProfitLoss > 0 {
			wins++
		}
	}
	if perf.TradingDays > 0 {
		perf.WinRate = goal.Round(float64(wins)/float64(perf.TradingDays), 4)
		perf.AverageProfit = goal.Round(perf.TotalProfit/float64(perf.TradingDays), 2)
	}
	perf.TotalProfit = goal.Round(perf.TotalProfit, 2)
	return perf
}

// advise 根据进度、近期绩效、趋势与截止日期给出建议，顺序固定。
func advise(g goal.Goal, pct float64, perf Performance, trend goal.Trend, now time.Time) []string {
	var out []string
	switch {
	case pct < 20:
		out = append(out, "Focus on establishing a consistent daily trading routine")
	case pct < 50:
		out = append(out, "Maintain the current trading pace and strategy")
	case pct < nearCompletionPct:
		out = append(out, "Good progress, stay focused on the goal")
	default:
		out = append(out, "Almost there, keep momentum for the final push")
	}
	if perf.TradingDays > 0 {
		switch {
		case perf.WinRate < lowWinRate:
			out = append(out, fmt.Sprintf("Review the trading strategy: win rate %.0f%% is below %.0f%%", perf.WinRate*100, lowWinRate*100))
		case perf.WinRate > highWinRate:
			out = append(out, fmt.Sprintf("Win rate %.0f%% is strong, position sizes could grow within limits", perf.WinRate*100))
		}
	}
	switch trend {
	case goal.TrendDeclining:
		out = append(out, "Progress is declining, consider adjusting the strategy")
	case goal.TrendAccelerating:
		out = append(out, "Progress is accelerating")
	case goal.TrendStable:
		out = append(out, "Progress is stable")
	}
	if g.Deadline != nil && !g.Status.Terminal() {
		if left := g.Deadline.Sub(now); left > 0 && left < deadlineWarnWithin {
			out = append(out, fmt.Sprintf("Deadline in %.1f days, trading frequency may need to increase", left.Hours()/24))
		}
	}
	return out
}

// daysActive 至少为 1，与创建当天即开始计数一致。
func daysActive(g goal.Goal, now time.Time) int {
	days := int(now.Sub(g.CreatedAt).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}
