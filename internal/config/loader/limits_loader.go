package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"goaltrader/internal/config"
	"goaltrader/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LimitsSnapshot 对外暴露的只读风控参数快照。
type LimitsSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Limits   config.SafetyLimits
}

// ChangeListener 在风控参数变更时被调用。
type ChangeListener func(LimitsSnapshot)

// LimitsLoader 从 YAML 文件读取安全阈值并监听热更新。
// 新文件解析或校验失败时保留上一版快照。
type LimitsLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  LimitsSnapshot
	listeners []ChangeListener
}

// NewLimitsLoader 读取文件并开始监听 FS 事件；base 作为文件缺省字段的来源。
func NewLimitsLoader(path string, base config.SafetyLimits) (*LimitsLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("limits loader requires path")
	}
	l := &LimitsLoader{path: path, snapshot: LimitsSnapshot{Limits: base}}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read limits file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		if err := l.reload(); err != nil {
			logger.Errorf("safety limits reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	l.v = v
	return l, nil
}

// Snapshot 返回当前快照。
func (l *LimitsLoader) Snapshot() LimitsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Limits satisfies the validator's limits source.
func (l *LimitsLoader) Limits() config.SafetyLimits {
	return l.Snapshot().Limits
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *LimitsLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := l.snapshot
	l.mu.Unlock()
	go safeCall(fn, snap)
}

func (l *LimitsLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go safeCall(fn, snap)
	}
}

func safeCall(fn ChangeListener, snap LimitsSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("limits listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *LimitsLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	l.mu.RLock()
	next := l.snapshot.Limits
	l.mu.RUnlock()
	if err := decodeLimits(raw, &next); err != nil {
		return err
	}
	config.ApplyLimitDefaults(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = LimitsSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Limits:   next,
	}
	l.mu.Unlock()
	logger.Infof("Safety limits reloaded from %s (v%d)", filepath.Base(l.path), l.snapshot.Version)
	return nil
}

// decodeLimits 严格解码：未知字段直接报错，防止拼写错误悄悄失效。
func decodeLimits(raw []byte, dst *config.SafetyLimits) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode limits failed: %w", err)
	}
	return nil
}
