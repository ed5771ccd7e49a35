package app

import (
	"fmt"
	"strings"
	"time"

	"goaltrader/internal/config"
	"goaltrader/internal/logger"
)

type StartupSummary struct {
	Env           string
	HTTPAddr      string
	Broker        string
	Calendar      string
	Timezone      string
	AnalysisModel string
	CheckInterval time.Duration
	MaxFailures   int
	Limits        config.SafetyLimits
	LimitsPath    string
	Telegram      bool
}

// Print 逐行写入日志，文件日志里也能看到启动参数。
func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	title := "启动配置摘要 (STARTUP SUMMARY)"
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[运行环境 (RUNTIME)]\n")
	fmt.Fprintf(&b, "  环境: %s\n", s.Env)
	fmt.Fprintf(&b, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  券商: %s\n", s.Broker)
	fmt.Fprintf(&b, "  交易时段: %s (%s)\n", s.Calendar, s.Timezone)
	fmt.Fprintf(&b, "  分析模型: %s\n", s.AnalysisModel)
	fmt.Fprintf(&b, "  Telegram: %s\n\n", onOff(s.Telegram))

	b.WriteString("[调度 (SCHEDULER)]\n")
	fmt.Fprintf(&b, "  检查间隔: %s\n", s.CheckInterval)
	if s.MaxFailures > 0 {
		fmt.Fprintf(&b, "  连续失败自动暂停: %d 次\n\n", s.MaxFailures)
	} else {
		b.WriteString("  连续失败自动暂停: 关闭\n\n")
	}

	b.WriteString("[安全阈值 (SAFETY LIMITS)]\n")
	l := s.Limits
	fmt.Fprintf(&b, "  单仓上限: %g%%\n", l.MaxPositionSize)
	fmt.Fprintf(&b, "  单笔风险: %g%%\n", l.MaxRiskPercent)
	fmt.Fprintf(&b, "  点差上限: %g%%\n", l.MaxSpreadPct)
	fmt.Fprintf(&b, "  默认止损距离: %g%%  默认开仓: %g%%\n", l.DefaultStopDistancePct, l.DefaultOrderPct)
	fmt.Fprintf(&b, "  盘外交易: %s\n", onOff(l.AllowOutsideHours))
	if s.LimitsPath != "" {
		fmt.Fprintf(&b, "  热更新文件: %s\n", s.LimitsPath)
	}
	b.WriteString(strings.Repeat("=", 80) + "\n")
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "开启"
	}
	return "关闭"
}
