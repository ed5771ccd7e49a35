package config

import (
	"fmt"
	"strings"
	"time"

	"goaltrader/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Analysis.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Safety.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.GoalDBPath) == "" {
		return fmt.Errorf("store.goal_db_path is required")
	}
	if strings.TrimSpace(s.ExecLogPath) == "" {
		return fmt.Errorf("store.exec_log_path is required")
	}
	if s.GoalDBPath == s.ExecLogPath {
		return fmt.Errorf("store.goal_db_path and store.exec_log_path must differ")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Provider {
	case "paper":
		if b.PaperCash <= 0 {
			return fmt.Errorf("broker.paper_cash must be > 0")
		}
	case "alpaca":
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key/api_secret required for alpaca (or ALPACA_API_KEY/ALPACA_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("broker.provider must be alpaca or paper, got %q", b.Provider)
	}
	if b.TimeoutSeconds <= 0 {
		return fmt.Errorf("broker.timeout_seconds must be > 0")
	}
	if b.RequestsPerMinute <= 0 {
		return fmt.Errorf("broker.requests_per_minute must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Calendar {
	case "static", "alpaca":
	default:
		return fmt.Errorf("market.calendar must be static or alpaca, got %q", m.Calendar)
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market.timezone invalid: %w", err)
	}
	for _, day := range m.Holidays {
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(day)); err != nil {
			return fmt.Errorf("market.holidays contains invalid date %q", day)
		}
	}
	return nil
}

func (a *AnalysisConfig) validate() error {
	if strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("analysis.api_url is required")
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("analysis.model is required")
	}
	if a.TimeoutSeconds <= 0 {
		return fmt.Errorf("analysis.timeout_seconds must be > 0")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("analysis.max_retries must be >= 0")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(s.CheckInterval); !ok {
		return fmt.Errorf("scheduler.check_interval invalid: %q", s.CheckInterval)
	}
	if s.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.session_timeout_seconds must be > 0")
	}
	if s.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("scheduler.max_consecutive_failures must be >= 0")
	}
	return nil
}

// CheckIntervalDuration 返回解析后的检查间隔（已通过校验）。
func (s SchedulerConfig) CheckIntervalDuration() time.Duration {
	d, _ := scheduler.ParseIntervalDuration(s.CheckInterval)
	return d
}

// Validate is shared with the hot-reload loader.
func (l SafetyLimits) Validate() error {
	if l.MaxPositionSize <= 0 || l.MaxPositionSize > 100 {
		return fmt.Errorf("safety.limits.max_position_size must be within (0,100]")
	}
	if l.MaxRiskPercent <= 0 || l.MaxRiskPercent > 100 {
		return fmt.Errorf("safety.limits.max_risk_percent must be within (0,100]")
	}
	if l.MaxSpreadPct <= 0 {
		return fmt.Errorf("safety.limits.max_spread_pct must be > 0")
	}
	if l.DefaultStopDistancePct <= 0 || l.DefaultStopDistancePct >= 100 {
		return fmt.Errorf("safety.limits.default_stop_distance_pct must be within (0,100)")
	}
	if l.DefaultOrderPct <= 0 || l.DefaultOrderPct > 100 {
		return fmt.Errorf("safety.limits.default_order_pct must be within (0,100]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
	}
	return nil
}
