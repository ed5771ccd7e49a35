package recommend

import (
	"fmt"
	"strconv"
	"strings"

	"goaltrader/internal/pkg/jsonutil"
	"goaltrader/internal/trade"

	"github.com/tidwall/gjson"
)

// 字段别名，归一化后再做 schema 校验。
var fieldAliases = map[string][]string{
	"side":                  {"side", "action", "direction"},
	"symbol":                {"symbol", "ticker"},
	"quantity":              {"quantity", "qty", "shares"},
	"target_allocation_pct": {"target_allocation_pct", "target_allocation", "allocation_pct"},
	"stop_loss":             {"stop_loss", "stop"},
	"take_profit":           {"take_profit", "target_price"},
	"confidence":            {"confidence"},
	"reason":                {"reason", "rationale"},
}

var sideAliases = map[string]string{
	"short":        string(trade.SideSellShort),
	"sell short":   string(trade.SideSellShort),
	"cover":        string(trade.SideBuyToCover),
	"buy to cover": string(trade.SideBuyToCover),
}

var numericFields = map[string]bool{
	"quantity": true, "target_allocation_pct": true, "stop_loss": true, "take_profit": true,
}

// parseStructured 处理 JSON 形式的推荐；ok=false 表示文本中没有可用的 JSON 块。
func (p *Parser) parseStructured(text string) ([]trade.Action, []Rejection, bool) {
	block, found := jsonutil.ExtractJSON(text)
	if !found {
		return nil, nil, false
	}
	if !gjson.Valid(block) {
		fixed, err := jsonutil.Repair(block)
		if err != nil || !gjson.Valid(fixed) {
			return nil, nil, false
		}
		block = fixed
	}
	items := actionItems(gjson.Parse(block))
	if len(items) == 0 {
		return nil, nil, false
	}
	var (
		actions    []trade.Action
		rejections []Rejection
	)
	for _, item := range items {
		if isHold(item) {
			continue
		}
		act, err := p.decodeItem(item)
		if err != nil {
			rejections = append(rejections, Rejection{Source: jsonutil.Compact(item.Raw), Reason: err.Error()})
			continue
		}
		actions = append(actions, act)
	}
	return actions, rejections, true
}

// actionItems 支持三种形态：动作数组、{"actions":[...]} 包装对象、单个动作对象。
func actionItems(root gjson.Result) []gjson.Result {
	switch {
	case root.IsArray():
		return objectsOnly(root.Array())
	case root.IsObject():
		for _, key := range []string{"actions", "trades", "recommendations", "orders"} {
			if v := root.Get(key); v.IsArray() {
				return objectsOnly(v.Array())
			}
		}
		if lookup(root, "side").Exists() && lookup(root, "symbol").Exists() {
			return []gjson.Result{root}
		}
	}
	return nil
}

func objectsOnly(in []gjson.Result) []gjson.Result {
	out := make([]gjson.Result, 0, len(in))
	for _, v := range in {
		if v.IsObject() {
			out = append(out, v)
		}
	}
	return out
}

// hold / none 是"不操作"，不算被拒绝的指令。
func isHold(item gjson.Result) bool {
	switch strings.ToLower(strings.TrimSpace(lookup(item, "side").String())) {
	case "hold", "none", "wait":
		return true
	}
	return false
}

func lookup(item gjson.Result, field string) gjson.Result {
	for _, alias := range fieldAliases[field] {
		if v := item.Get(alias); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func (p *Parser) decodeItem(item gjson.Result) (trade.Action, error) {
	doc := make(map[string]any, len(fieldAliases))
	for field := range fieldAliases {
		v := lookup(item, field)
		if !v.Exists() {
			continue
		}
		switch field {
		case "side":
			side := strings.ToLower(strings.TrimSpace(v.String()))
			if alias, ok := sideAliases[side]; ok {
				side = alias
			}
			doc[field] = side
		case "symbol":
			doc[field] = strings.ToUpper(strings.TrimSpace(v.String()))
		case "confidence":
			doc[field] = strings.ToLower(strings.TrimSpace(v.String()))
		default:
			if numericFields[field] && v.Type == gjson.String {
				if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(v.String(), "$")), 64); err == nil {
					doc[field] = f
					continue
				}
			}
			doc[field] = v.Value()
		}
	}
	if err := p.schema.Validate(doc); err != nil {
		return trade.Action{}, fmt.Errorf("invalid structured action: %s", firstLine(err.Error()))
	}
	act := trade.Action{
		Side:       trade.Side(doc["side"].(string)),
		Symbol:     doc["symbol"].(string),
		Confidence: trade.ConfidenceMedium,
	}
	if v, ok := doc["quantity"].(float64); ok {
		act.Quantity = trade.Float(v)
	}
	if v, ok := doc["target_allocation_pct"].(float64); ok {
		act.TargetAllocationPct = trade.Float(v)
	}
	if v, ok := doc["stop_loss"].(float64); ok {
		act.StopLoss = trade.Float(v)
	}
	if v, ok := doc["take_profit"].(float64); ok {
		act.TakeProfit = trade.Float(v)
	}
	if v, ok := doc["confidence"].(string); ok {
		act.Confidence = trade.ParseConfidence(v)
	}
	if v, ok := doc["reason"].(string); ok {
		act.Reason = strings.TrimSpace(v)
	}
	return act, act.Check()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
