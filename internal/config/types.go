package config

import "strings"

// Config 是 goaltrader 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Broker    BrokerConfig    `toml:"broker"`
	Market    MarketConfig    `toml:"market"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Safety    SafetyConfig    `toml:"safety"`
	Queue     QueueConfig     `toml:"queue"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	AnalysisLog  string `toml:"analysis_log_path"`
	AnalysisDump bool   `toml:"analysis_dump_payload"`
}

// StoreConfig 描述目标库与执行日志的落盘位置。
type StoreConfig struct {
	GoalDBPath  string `toml:"goal_db_path"`
	ExecLogPath string `toml:"exec_log_path"`
}

// BrokerConfig 描述券商接入方式；paper 模式完全在内存中撮合。
type BrokerConfig struct {
	Provider               string  `toml:"provider"` // "alpaca" | "paper"
	APIKey                 string  `toml:"api_key"`
	APISecret              string  `toml:"api_secret"`
	BaseURL                string  `toml:"base_url"`
	DataURL                string  `toml:"data_url"`
	RequestsPerMinute      int     `toml:"requests_per_minute"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	CircuitThreshold       int     `toml:"circuit_threshold"`
	CircuitCooldownSeconds int     `toml:"circuit_cooldown_seconds"`
	PaperCash              float64 `toml:"paper_cash"`
}

func (b BrokerConfig) IsPaper() bool {
	return strings.EqualFold(strings.TrimSpace(b.Provider), "paper")
}

// MarketConfig 控制交易时段判断：static 使用内置美股日历，alpaca 使用 /v2/clock。
type MarketConfig struct {
	Calendar string   `toml:"calendar"`
	Timezone string   `toml:"timezone"`
	Holidays []string `toml:"holidays"` // YYYY-MM-DD，追加到内置节假日
}

// AnalysisConfig 对应 OpenAI 兼容的 /chat/completions 接口。
type AnalysisConfig struct {
	Provider       string            `toml:"provider"`
	APIURL         string            `toml:"api_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	Headers        map[string]string `toml:"headers"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxRetries     int               `toml:"max_retries"`
	Temperature    float64           `toml:"temperature"`
	SystemPrompt   string            `toml:"system_prompt"`
}

type SchedulerConfig struct {
	CheckInterval          string `toml:"check_interval"` // "5m", "1h"
	SessionTimeoutSeconds  int    `toml:"session_timeout_seconds"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"` // 0 关闭自动暂停
	RunOnStart             bool   `toml:"run_on_start"`
}

// SafetyConfig 的 limits 可由 limits_path 指向的 YAML 文件热更新覆盖。
type SafetyConfig struct {
	LimitsPath string       `toml:"limits_path"`
	Limits     SafetyLimits `toml:"limits"`
}

type SafetyLimits struct {
	MaxPositionSize        float64 `toml:"max_position_size" yaml:"max_position_size"`                 // 占权益百分比
	MaxRiskPercent         float64 `toml:"max_risk_percent" yaml:"max_risk_percent"`                   // 单笔止损风险占权益百分比
	MaxSpreadPct           float64 `toml:"max_spread_pct" yaml:"max_spread_pct"`                       // (ask-bid)/mid
	DefaultStopDistancePct float64 `toml:"default_stop_distance_pct" yaml:"default_stop_distance_pct"` // 未给止损时的假设距离
	DefaultOrderPct        float64 `toml:"default_order_pct" yaml:"default_order_pct"`                 // 未给数量时的开仓规模
	AllowOutsideHours      bool    `toml:"allow_outside_hours" yaml:"allow_outside_hours"`
}

// QueueConfig 控制插队任务的处理。
type QueueConfig struct {
	MaxPending int `toml:"max_pending"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if k == nil {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
