package recommend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"goaltrader/internal/trade"
)

// 代码必须大写；动词大小写不敏感。
const symbolPattern = `([A-Z]{1,5}(?:\.[A-Z])?)`
const numberPattern = `(\d+(?:\.\d+)?)`

// matcher 是一条纯函数规则：命中后返回动作，或返回拒绝原因。
type matcher struct {
	name  string
	re    *regexp.Regexp
	build func(m []string) (trade.Action, string)
}

// hit 是一次命中在行内的位置；reject 非空表示识别为指令但参数不可用。
type hit struct {
	start, end int
	act        trade.Action
	reject     string
}

// find 返回该规则在一行中的全部命中，不做止损/理由等补充。
func (m matcher) find(line string) []hit {
	var out []hit
	for _, loc := range m.re.FindAllStringSubmatchIndex(line, -1) {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = line[loc[2*i]:loc[2*i+1]]
			}
		}
		act, reject := m.build(groups)
		if stopWords[act.Symbol] {
			continue
		}
		// 前缀分隔符不算在指令范围内
		start := loc[0]
		if loc[2] >= 0 {
			start = loc[2]
		}
		out = append(out, hit{start: start, end: loc[1], act: act, reject: reject})
	}
	return out
}

func (h hit) overlaps(o hit) bool {
	return h.start < o.end && o.start < h.end
}

var stopWords = map[string]bool{
	"A": true, "AN": true, "THE": true, "ALL": true, "ANY": true, "SOME": true, "MORE": true,
	"NOW": true, "AT": true, "ON": true, "IN": true, "TO": true, "OF": true, "FOR": true,
	"IT": true, "THIS": true, "THAT": true, "BACK": true, "AND": true, "OR": true, "SHARE": true,
	"SHARES": true, "STOCK": true, "USD": true, "SHORT": true, "COVER": true,
}

var (
	reStopLoss   = regexp.MustCompile(`(?i:stop[\s-]?loss)\s*(?:at|of|:|@|=)?\s*\$?` + numberPattern)
	reTakeProfit = regexp.MustCompile(`(?i:take[\s-]?profit|price\s+target|target\s+price)\s*(?:at|of|:|@|=)?\s*\$?` + numberPattern)
	reConfidence = regexp.MustCompile(`(?i:\b(low|medium|high)\s+confidence\b|\bconfidence\s*[:=]?\s*(low|medium|high)\b)`)
	reReasonLead = regexp.MustCompile(`^(?:(?i:for|because|due\s+to|since|as)\b|[-:,–])\s*`)
)

// enrich 从同一行读取止损、止盈与信心，剩余文本作为理由。
func enrich(act *trade.Action, line, tail string) {
	if m := reStopLoss.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			act.StopLoss = trade.Float(v)
		}
	}
	if m := reTakeProfit.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			act.TakeProfit = trade.Float(v)
		}
	}
	act.Confidence = trade.ConfidenceMedium
	if m := reConfidence.FindStringSubmatch(line); m != nil {
		act.Confidence = trade.ParseConfidence(m[1] + m[2])
	}
	reason := strings.TrimSpace(tail)
	for {
		next := strings.TrimSpace(reLeadStrip(reason))
		if next == reason {
			break
		}
		reason = next
	}
	reason = strings.TrimRight(reason, ".;, ")
	if reason == "" {
		reason = line
	}
	act.Reason = reason
}

func reLeadStrip(s string) string {
	return reReasonLead.ReplaceAllString(s, "")
}

func defaultMatchers() []matcher {
	return []matcher{
		{
			name: "rebalance",
			re: regexp.MustCompile(`(?i:\b(reduce|increase)\b)\s+` + symbolPattern +
				`\s+(?i:allocation|weight|exposure)\s+(?i:from)\s+` + numberPattern + `\s*%\s*(?i:to)\s+` + numberPattern + `\s*%`),
			build: func(m []string) (trade.Action, string) {
				from, _ := strconv.ParseFloat(m[3], 64)
				to, _ := strconv.ParseFloat(m[4], 64)
				act := trade.Action{Symbol: m[2], TargetAllocationPct: trade.Float(to)}
				switch {
				case to < from:
					act.Side = trade.SideSell
				case to > from:
					act.Side = trade.SideBuy
				default:
					return act, fmt.Sprintf("%s allocation unchanged at %g%%", m[2], to)
				}
				if to > 100 {
					return act, fmt.Sprintf("%s target allocation %g%% exceeds 100%%", m[2], to)
				}
				return act, ""
			},
		},
		{
			name: "short_cover",
			re: regexp.MustCompile(`(?:^|[^A-Za-z_])(?i:(sell\s+short|short|buy\s+to\s+cover|cover))\s+` + symbolPattern +
				`\b(?:\s+` + numberPattern + `\s+(?i:shares?))?`),
			build: func(m []string) (trade.Action, string) {
				return withQuantity(sideOf(m[1]), m[2], m[3])
			},
		},
		{
			name: "direct",
			re:   regexp.MustCompile(`(?:^|[^A-Za-z_])(?i:(buy|sell))\s+` + symbolPattern + `\b(?:\s+` + numberPattern + `\s+(?i:shares?))?`),
			build: func(m []string) (trade.Action, string) {
				return withQuantity(sideOf(m[1]), m[2], m[3])
			},
		},
		{
			name: "shares_of",
			re:   regexp.MustCompile(`(?i:\b(buy|sell))\s+` + numberPattern + `\s+(?i:shares?\s+of)\s+` + symbolPattern + `\b(?:\s+(?i:at)\s+\$?` + numberPattern + `)?`),
			build: func(m []string) (trade.Action, string) {
				return withQuantity(sideOf(m[1]), m[3], m[2])
			},
		},
		{
			name: "symbol_colon",
			re:   regexp.MustCompile(`\b` + symbolPattern + `:\s*(?i:(buy|sell))\s+` + numberPattern + `\s+(?i:shares?)`),
			build: func(m []string) (trade.Action, string) {
				return withQuantity(sideOf(m[2]), m[1], m[3])
			},
		},
		{
			name: "recommend",
			re:   regexp.MustCompile(`(?i:\b(?:recommend|suggest)\s+(buying|selling))\s+` + numberPattern + `\s+(?:(?i:shares?\s+of)\s+)?` + symbolPattern + `\b`),
			build: func(m []string) (trade.Action, string) {
				return withQuantity(sideOf(m[1]), m[3], m[2])
			},
		},
		{
			name: "action_form",
			re:   regexp.MustCompile(`(?i:action)\s*:\s*(?i:(buy|sell|short|cover))\b.*?(?i:symbol)\s*:\s*` + symbolPattern + `\b.*?(?i:quantity)\s*:\s*` + numberPattern),
			build: func(m []string) (trade.Action, string) {
				return withQuantity(sideOf(m[1]), m[2], m[3])
			},
		},
	}
}

func sideOf(verb string) trade.Side {
	switch strings.Join(strings.Fields(strings.ToLower(verb)), " ") {
	case "buy", "buying":
		return trade.SideBuy
	case "sell", "selling":
		return trade.SideSell
	case "short", "sell short":
		return trade.SideSellShort
	case "cover", "buy to cover":
		return trade.SideBuyToCover
	}
	return ""
}

func withQuantity(side trade.Side, symbol, qty string) (trade.Action, string) {
	act := trade.Action{Side: side, Symbol: symbol}
	if qty == "" {
		return act, ""
	}
	v, err := strconv.ParseFloat(qty, 64)
	if err != nil || v <= 0 {
		return act, fmt.Sprintf("%s: quantity %q is not positive", symbol, qty)
	}
	act.Quantity = trade.Float(v)
	return act, ""
}
