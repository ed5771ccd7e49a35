package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 YAML 配置（支持 include 链），叠加环境变量中的密钥后填默认值并校验。
// include 中的文件先合并，当前文件的值覆盖被包含文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	files, err := includeChain(abs, map[string]bool{}, map[string]bool{})
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// 显式写出的键（包括 0 / false）不会被默认值覆盖
	setKeys := make(keySet)
	for _, key := range v.AllKeys() {
		setKeys.mark(key)
	}
	cfg.applyEnv()
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeChain 深度优先展开 include，返回按合并顺序排列的文件；重复包含只取一次，成环报错。
func includeChain(path string, done, visiting map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	switch {
	case visiting[path]:
		return nil, fmt.Errorf("include cycle detected: %s", path)
	case done[path]:
		return nil, nil
	}
	visiting[path] = true
	head := viper.New()
	head.SetConfigFile(path)
	if err := head.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var files []string
	for _, inc := range head.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := includeChain(inc, done, visiting)
		if err != nil {
			return nil, err
		}
		files = append(files, sub...)
	}
	delete(visiting, path)
	done[path] = true
	return append(files, path), nil
}

// applyEnv 仅在配置文件留空时用环境变量补齐密钥，避免把凭据写进仓库。
func (c *Config) applyEnv() {
	envFallback(&c.Broker.APIKey, "ALPACA_API_KEY", "APCA_API_KEY_ID")
	envFallback(&c.Broker.APISecret, "ALPACA_SECRET_KEY", "APCA_API_SECRET_KEY")
	envFallback(&c.Analysis.APIKey, "ANALYSIS_API_KEY", "OPENAI_API_KEY")
	envFallback(&c.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	envFallback(&c.Notify.Telegram.ChatID, "TELEGRAM_CHAT_ID")
}

func envFallback(target *string, names ...string) {
	if target == nil || strings.TrimSpace(*target) != "" {
		return
	}
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			*target = val
			return
		}
	}
}
