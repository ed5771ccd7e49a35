package jsonutil

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

const codeFence = "```"

// ExtractJSON 从模型输出中取出第一个 JSON 结构：优先代码块，其次是最先出现的 {...} 或 [...]。
func ExtractJSON(raw string) (string, bool) {
	out, _, ok := extract(raw)
	return out, ok
}

// ExtractJSONWithOffset 同 ExtractJSON，额外返回块在原文中的起始位置，调用方据此跳过已消费的文本。
func ExtractJSONWithOffset(raw string) (string, int, bool) {
	return extract(raw)
}

// Repair 用 jsonrepair 修复尾逗号、单引号、缺失括号等常见模型输出问题。
func Repair(raw string) (string, error) {
	return jsonrepair.JSONRepair(raw)
}

func extract(raw string) (string, int, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", -1, false
	}
	if block, offset, ok := extractFromFence(raw); ok {
		return block, offset, true
	}
	return extractBalanced(raw)
}

func extractFromFence(raw string) (string, int, bool) {
	search := 0
	for {
		start := strings.Index(raw[search:], codeFence)
		if start == -1 {
			return "", -1, false
		}
		start += search
		rest := raw[start+len(codeFence):]
		end := strings.Index(rest, codeFence)
		if end == -1 {
			return "", -1, false
		}
		block := rest[:end]
		offset := start + len(codeFence)
		if idx := strings.Index(block, "\n"); idx != -1 {
			lang := strings.TrimSpace(block[:idx])
			if lang != "" && !strings.ContainsAny(lang, "[{") {
				block = block[idx+1:]
				offset += idx + 1
			}
		}
		if found, rel, ok := extractBalanced(block); ok {
			return found, offset + rel, true
		}
		// 非 JSON 代码块，继续往后找
		search = start + len(codeFence) + end + len(codeFence)
		if search >= len(raw) {
			return "", -1, false
		}
	}
}

// extractBalanced 返回最先出现的括号配平的 JSON 片段，跳过字符串内的括号。
func extractBalanced(raw string) (string, int, bool) {
	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return "", -1, false
	}
	open := raw[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), start, true
			}
		}
	}
	// 截断的输出：交给 Repair 补齐括号
	return strings.TrimSpace(raw[start:]), start, true
}
