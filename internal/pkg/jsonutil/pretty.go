package jsonutil

import (
	"strings"

	"github.com/tidwall/pretty"
	"github.com/tidwall/gjson"
)

// Pretty 格式化 JSON，用于日志与执行报告；非法 JSON 原样返回。
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return raw
	}
	return strings.TrimSpace(string(pretty.Pretty([]byte(raw))))
}

// Compact 去掉空白，便于单行日志。
func Compact(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return raw
	}
	return string(pretty.Ugly([]byte(raw)))
}
