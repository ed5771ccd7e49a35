package analysis

import (
	"fmt"
	"sort"
	"strings"

	"goaltrader/internal/analysis/indicator"
	"goaltrader/internal/broker"
	"goaltrader/internal/goal"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

const defaultSystemPrompt = `You are the portfolio manager for a goal-driven US equities account.
Propose at most five trades for today's session that move the account toward its goal
without taking outsized risk. Reply with a short rationale followed by one fenced json block:
{"actions":[{"side":"buy|sell|sell_short|buy_to_cover","symbol":"TICKER","quantity":N or "target_allocation_pct":P,
"stop_loss":price,"take_profit":price,"confidence":"low|medium|high","reason":"..."}]}
Return an empty actions array when no trade is warranted.`

// Input 是一次会话交给分析引擎的上下文。
type Input struct {
	Goal        goal.Goal
	Progress    float64
	Trend       goal.Trend
	Account     broker.AccountState
	MarketLabel string
	// Technicals 为持仓代码的日线指标，可为空
	Technicals []indicator.Report
	Extra      string
}

// RenderPrompt 把目标与账户状态渲染成紧凑的文本上下文。
func RenderPrompt(in Input) string {
	var b strings.Builder
	g := in.Goal
	fmt.Fprintf(&b, "GOAL %s: %s target=%g", g.ID, g.Kind, g.TargetValue)
	if g.Description != "" {
		fmt.Fprintf(&b, " (%s)", g.Description)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Baseline value=%.2f risk=%.2f%% captured=%s\n",
		g.Baseline.Value, g.Baseline.RiskPct, g.Baseline.CapturedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Progress %.2f%% trend=%s\n", in.Progress, in.Trend)
	if g.Deadline != nil {
		fmt.Fprintf(&b, "Deadline %s\n", g.Deadline.Format("2006-01-02"))
	}
	if in.MarketLabel != "" {
		fmt.Fprintf(&b, "Market: %s\n", in.MarketLabel)
	}

	acct := in.Account
	fmt.Fprintf(&b, "\nACCOUNT equity=%s cash=%s buying_power=%s day_pnl=%s\n",
		acct.Equity.StringFixed(2), acct.Cash.StringFixed(2), acct.BuyingPower.StringFixed(2),
		acct.Equity.Sub(acct.LastEquity).StringFixed(2))
	positions := append([]broker.Position(nil), acct.Positions...)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].MarketValue.Abs().GreaterThan(positions[j].MarketValue.Abs())
	})
	if len(positions) == 0 {
		b.WriteString("No open positions.\n")
	}
	for _, p := range positions {
		alloc := "0.00"
		if acct.Equity.IsPositive() {
			alloc = p.MarketValue.Div(acct.Equity).Mul(hundred).StringFixed(2)
		}
		fmt.Fprintf(&b, "- %s qty=%s avg=%s value=%s alloc=%s%%\n",
			p.Symbol, p.Qty.String(), p.AvgEntryPrice.StringFixed(2), p.MarketValue.StringFixed(2), alloc)
	}
	if len(in.Technicals) > 0 {
		b.WriteString("\nTECHNICALS (daily)\n")
		for _, rep := range in.Technicals {
			b.WriteString("- " + rep.Line() + "\n")
		}
	}
	if extra := strings.TrimSpace(in.Extra); extra != "" {
		b.WriteString("\nNOTES\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}
