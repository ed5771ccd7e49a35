package recommend

import (
	"fmt"
	"sort"
	"strings"

	"goaltrader/internal/trade"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Rejection 记录被识别为指令、但参数不可用的片段。
type Rejection struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Result 是一次解析的产物；Actions 与 Rejections 都可能为空。
type Result struct {
	Actions    []trade.Action `json:"actions"`
	Rejections []Rejection    `json:"rejections,omitempty"`
	Structured bool           `json:"structured"`
}

// Empty 表示推荐中没有任何可执行或被拒绝的指令。
func (r Result) Empty() bool {
	return len(r.Actions) == 0 && len(r.Rejections) == 0
}

// Parser 把分析引擎的输出转换为交易动作。无内部可变状态，可并发使用。
type Parser struct {
	schema   *jsonschema.Schema
	matchers []matcher
}

func NewParser() (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("action.json", strings.NewReader(actionSchema)); err != nil {
		return nil, fmt.Errorf("load action schema: %w", err)
	}
	schema, err := compiler.Compile("action.json")
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &Parser{schema: schema, matchers: defaultMatchers()}, nil
}

// MustParser 供初始化阶段使用；内置 schema 编译失败属于程序错误。
func MustParser() *Parser {
	p, err := NewParser()
	if err != nil {
		panic(err)
	}
	return p
}

// Parse 先尝试结构化 JSON 块；块内给出动作时以其为准，否则逐行匹配自由文本，一行可含多条指令。
// 同一 (symbol, side) 只保留第一次出现。
func (p *Parser) Parse(text string) Result {
	var res Result
	if strings.TrimSpace(text) == "" {
		return res
	}
	if actions, rejections, ok := p.parseStructured(text); ok {
		res.Rejections = append(res.Rejections, rejections...)
		if len(actions) > 0 {
			res.Structured = true
			res.Actions = dedupe(actions)
			return res
		}
	}
	var actions []trade.Action
	for _, raw := range strings.Split(text, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		hits := p.scan(line)
		for i, h := range hits {
			// 一行多条指令时，每条只看到下一条指令之前的文本
			segment, next := line, len(line)
			if len(hits) > 1 {
				if i+1 < len(hits) {
					next = hits[i+1].start
				}
				segment = strings.TrimRight(strings.TrimSpace(line[h.start:next]), ",;")
			}
			if h.reject != "" {
				res.Rejections = append(res.Rejections, Rejection{Source: segment, Reason: h.reject})
				continue
			}
			act := h.act
			enrich(&act, segment, line[h.end:next])
			if err := act.Check(); err != nil {
				res.Rejections = append(res.Rejections, Rejection{Source: segment, Reason: err.Error()})
				continue
			}
			actions = append(actions, act)
		}
	}
	res.Actions = dedupe(actions)
	return res
}

// scan 按规则顺序收集命中；与先前规则命中重叠的片段被丢弃，结果按行内位置排序。
func (p *Parser) scan(line string) []hit {
	var hits []hit
	for _, m := range p.matchers {
	next:
		for _, h := range m.find(line) {
			for _, prev := range hits {
				if h.overlaps(prev) {
					continue next
				}
			}
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

func dedupe(actions []trade.Action) []trade.Action {
	if len(actions) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(actions))
	out := make([]trade.Action, 0, len(actions))
	for _, a := range actions {
		if _, ok := seen[a.Key()]; ok {
			continue
		}
		seen[a.Key()] = struct{}{}
		out = append(out, a)
	}
	return out
}

// cleanLine 去掉 markdown 列表符号与加粗标记。
func cleanLine(raw string) string {
	line := strings.TrimSpace(raw)
	line = strings.ReplaceAll(line, "**", "")
	line = strings.ReplaceAll(line, "__", "")
	line = strings.TrimLeft(line, "-*•># \t")
	if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
		line = line[i+1:]
	}
	return strings.TrimSpace(line)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
