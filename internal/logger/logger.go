package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 替换全局日志输出（通常为 stdout + 日志文件的 MultiWriter）。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// SetLevel 接受 debug/info/warn/error，未知值回退到 info。
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Scope 为某个组件/目标附带固定的结构化字段（如 goal_id）。
// 每次调用都读取当前全局 logger，SetOutput 之后依然生效。
type Scope struct {
	attrs []any
}

func With(kv ...any) Scope {
	return Scope{attrs: append([]any(nil), kv...)}
}

func (s Scope) With(kv ...any) Scope {
	merged := make([]any, 0, len(s.attrs)+len(kv))
	merged = append(merged, s.attrs...)
	merged = append(merged, kv...)
	return Scope{attrs: merged}
}

func (s Scope) Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...), s.attrs...)
}

func (s Scope) Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...), s.attrs...)
}

func (s Scope) Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...), s.attrs...)
}

func (s Scope) Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...), s.attrs...)
}

// InfoBlock logs a multi-line block one line at a time.
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
