package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppHTTPAddr         = ":9991"
	defaultAppLogPath          = "data/logs/goaltrader.log"
	defaultAppAnalysisLogPath  = "data/logs/goaltrader-analysis.log"
	defaultStoreGoalDB         = "data/db/goals.db"
	defaultStoreExecLog        = "data/db/executions.db"
	defaultBrokerProvider      = "paper"
	defaultBrokerBaseURL       = "https://paper-api.alpaca.markets"
	defaultBrokerDataURL       = "https://data.alpaca.markets"
	defaultBrokerRPM           = 180
	defaultBrokerTimeout       = 15
	defaultBrokerCircuit       = 3
	defaultBrokerCooldown      = 60
	defaultBrokerPaperCash     = 100000
	defaultMarketCalendar      = "static"
	defaultMarketTimezone      = "America/New_York"
	defaultAnalysisProvider    = "openai"
	defaultAnalysisAPIURL      = "https://api.openai.com/v1"
	defaultAnalysisModel       = "gpt-4o-mini"
	defaultAnalysisTimeout     = 90
	defaultAnalysisRetries     = 2
	defaultAnalysisTemperature = 0.3
	defaultCheckInterval       = "5m"
	defaultSessionTimeout      = 300
	defaultMaxFailures         = 5
	defaultMaxPositionSize     = 20
	defaultMaxRiskPercent      = 2
	defaultMaxSpreadPct        = 0.5
	defaultStopDistancePct     = 5
	defaultOrderPct            = 5
	defaultQueueMaxPending     = 100
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Analysis.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Safety.Limits.applyDefaults(keys)
	c.Queue.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.analysis_log_path", &a.AnalysisLog, defaultAppAnalysisLogPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.goal_db_path", &s.GoalDBPath, defaultStoreGoalDB),
		stringFieldDefault("store.exec_log_path", &s.ExecLogPath, defaultStoreExecLog),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
	applyFieldDefaults(keys,
		stringFieldDefault("broker.provider", &b.Provider, defaultBrokerProvider),
		stringFieldDefault("broker.base_url", &b.BaseURL, defaultBrokerBaseURL),
		stringFieldDefault("broker.data_url", &b.DataURL, defaultBrokerDataURL),
		intFieldDefault("broker.requests_per_minute", &b.RequestsPerMinute, defaultBrokerRPM),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
		intFieldDefault("broker.circuit_threshold", &b.CircuitThreshold, defaultBrokerCircuit),
		intFieldDefault("broker.circuit_cooldown_seconds", &b.CircuitCooldownSeconds, defaultBrokerCooldown),
		floatFieldDefault("broker.paper_cash", &b.PaperCash, defaultBrokerPaperCash),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Calendar = strings.ToLower(strings.TrimSpace(m.Calendar))
	applyFieldDefaults(keys,
		stringFieldDefault("market.calendar", &m.Calendar, defaultMarketCalendar),
		stringFieldDefault("market.timezone", &m.Timezone, defaultMarketTimezone),
	)
}

func (a *AnalysisConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("analysis.provider", &a.Provider, defaultAnalysisProvider),
		stringFieldDefault("analysis.api_url", &a.APIURL, defaultAnalysisAPIURL),
		stringFieldDefault("analysis.model", &a.Model, defaultAnalysisModel),
		intFieldDefault("analysis.timeout_seconds", &a.TimeoutSeconds, defaultAnalysisTimeout),
		intFieldDefault("analysis.max_retries", &a.MaxRetries, defaultAnalysisRetries),
		floatFieldDefault("analysis.temperature", &a.Temperature, defaultAnalysisTemperature),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.check_interval", &s.CheckInterval, defaultCheckInterval),
		intFieldDefault("scheduler.session_timeout_seconds", &s.SessionTimeoutSeconds, defaultSessionTimeout),
		intFieldDefault("scheduler.max_consecutive_failures", &s.MaxConsecutiveFailures, defaultMaxFailures),
	)
}

func (l *SafetyLimits) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("safety.limits.max_position_size", &l.MaxPositionSize, defaultMaxPositionSize),
		floatFieldDefault("safety.limits.max_risk_percent", &l.MaxRiskPercent, defaultMaxRiskPercent),
		floatFieldDefault("safety.limits.max_spread_pct", &l.MaxSpreadPct, defaultMaxSpreadPct),
		floatFieldDefault("safety.limits.default_stop_distance_pct", &l.DefaultStopDistancePct, defaultStopDistancePct),
		floatFieldDefault("safety.limits.default_order_pct", &l.DefaultOrderPct, defaultOrderPct),
	)
}

// ApplyLimitDefaults fills unset limits from a hot-reloaded file with the built-in defaults.
func ApplyLimitDefaults(l *SafetyLimits) {
	l.applyDefaults(nil)
}

func (q *QueueConfig) applyDefaults(keys keySet) {
	if q == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("queue.max_pending", &q.MaxPending, defaultQueueMaxPending),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
