package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goaltrader/internal/analysis"
	"goaltrader/internal/broker"
	"goaltrader/internal/broker/alpaca"
	"goaltrader/internal/broker/paper"
	"goaltrader/internal/config"
	cfgloader "goaltrader/internal/config/loader"
	"goaltrader/internal/engine"
	"goaltrader/internal/executor"
	"goaltrader/internal/intervention"
	"goaltrader/internal/logger"
	"goaltrader/internal/market"
	"goaltrader/internal/notify"
	"goaltrader/internal/pkg/circuit"
	"goaltrader/internal/recommend"
	"goaltrader/internal/safety"
	"goaltrader/internal/store/execlog"
	"goaltrader/internal/store/gormstore"
	"goaltrader/internal/tracker"
	"goaltrader/internal/transport/http/api"
)

// brokerStack 是券商与交易时段判断的组合；alpaca 同时充当两者。
type brokerStack struct {
	Broker broker.Broker
	Clock  market.Clock
	Bars   market.BarSource
	Loc    *time.Location
}

type AppBuilder struct {
	cfg *config.Config

	brokerFn   func(config.BrokerConfig, config.MarketConfig) (*brokerStack, error)
	analysisFn func(config.AnalysisConfig) analysis.Engine
	notifierFn func(config.TelegramConfig) notify.TextNotifier
	nowFn      func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithBroker 替换券商构造，测试中注入 paper broker 与固定时钟。
func WithBroker(b broker.Broker, clock market.Clock) AppBuilderOption {
	return func(ab *AppBuilder) {
		ab.brokerFn = func(_ config.BrokerConfig, m config.MarketConfig) (*brokerStack, error) {
			loc, err := time.LoadLocation(m.Timezone)
			if err != nil {
				loc = time.UTC
			}
			return &brokerStack{Broker: b, Clock: clock, Loc: loc}, nil
		}
	}
}

func WithAnalysis(e analysis.Engine) AppBuilderOption {
	return func(ab *AppBuilder) {
		ab.analysisFn = func(config.AnalysisConfig) analysis.Engine { return e }
	}
}

func WithClock(now func() time.Time) AppBuilderOption {
	return func(ab *AppBuilder) {
		if now != nil {
			ab.nowFn = now
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		brokerFn:   buildBrokerStack,
		analysisFn: func(c config.AnalysisConfig) analysis.Engine { return analysis.NewChatClient(c) },
		notifierFn: buildTelegram,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	goals, err := gormstore.NewGormStore(cfg.Store.GoalDBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化目标库失败: %w", err)
	}
	a.goals = goals
	logs, err := execlog.NewStore(cfg.Store.ExecLogPath)
	if err != nil {
		return nil, fmt.Errorf("初始化执行日志失败: %w", err)
	}
	a.execLog = logs

	stack, err := b.brokerFn(cfg.Broker, cfg.Market)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 券商: %s，交易时段: %s (%s)", cfg.Broker.Provider, cfg.Market.Calendar, stack.Loc)

	limits, err := b.limitsSource(cfg.Safety)
	if err != nil {
		return nil, err
	}
	validator := safety.NewValidator(limits, stack.Clock).WithClock(b.nowFn)

	breaker := circuit.NewCircuitBreaker("broker-orders", cfg.Broker.CircuitThreshold,
		time.Duration(cfg.Broker.CircuitCooldownSeconds)*time.Second)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("circuit %s: %s → %s", name, from, to)
	})
	exec := executor.New(stack.Broker, logs,
		executor.WithTimeout(time.Duration(cfg.Broker.TimeoutSeconds)*time.Second),
		executor.WithBreaker(breaker),
		executor.WithClock(b.nowFn),
	)

	sinks := notify.Fanout{notify.LogSink{}}
	if n := b.notifierFn(cfg.Notify.Telegram); n != nil {
		sinks = append(sinks, notify.TextSink{Notifier: n})
		logger.Infof("✓ Telegram 通知已启用")
	}
	a.tracker = tracker.New(goals, stack.Broker, tracker.WithClock(b.nowFn), tracker.WithSink(sinks))

	notes := engine.NewNotes()
	runner := engine.NewSessionRunner(engine.RunnerParams{
		Tracker:         a.tracker,
		Analysis:        b.analysisFn(cfg.Analysis),
		Parser:          recommend.MustParser(),
		Validator:       validator,
		Executor:        exec,
		Broker:          stack.Broker,
		Clock:           stack.Clock,
		Bars:            stack.Bars,
		Notes:           notes,
		AnalysisTimeout: time.Duration(cfg.Scheduler.SessionTimeoutSeconds) * time.Second,
		NowFn:           b.nowFn,
	})
	a.loop = engine.NewLoop(engine.LoopParams{
		Tracker:                a.tracker,
		Runner:                 runner,
		Clock:                  stack.Clock,
		Location:               stack.Loc,
		CheckInterval:          cfg.Scheduler.CheckIntervalDuration(),
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
		RunOnStart:             cfg.Scheduler.RunOnStart,
		NowFn:                  b.nowFn,
		OnStateChange: func(goalID string, from, to engine.WorkerState) {
			logger.With("goal_id", goalID).Debugf("worker %s → %s", from, to)
		},
	})
	iv := engine.NewInterventions(a.loop, notes)
	a.coordinator = intervention.NewCoordinator(intervention.NewQueue(cfg.Queue.MaxPending), iv.Handle)

	a.http, err = api.NewServer(api.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &api.Router{
			Tracker:     a.tracker,
			Loop:        a.loop,
			Coordinator: a.coordinator,
			ExecLog:     logs,
		},
	})
	if err != nil {
		return nil, err
	}

	a.Summary = &StartupSummary{
		Env:           cfg.App.Env,
		HTTPAddr:      cfg.App.HTTPAddr,
		Broker:        cfg.Broker.Provider,
		Calendar:      cfg.Market.Calendar,
		Timezone:      stack.Loc.String(),
		AnalysisModel: fmt.Sprintf("%s/%s", cfg.Analysis.Provider, cfg.Analysis.Model),
		CheckInterval: cfg.Scheduler.CheckIntervalDuration(),
		MaxFailures:   cfg.Scheduler.MaxConsecutiveFailures,
		Limits:        limits.Limits(),
		LimitsPath:    cfg.Safety.LimitsPath,
		Telegram:      len(sinks) > 1,
	}
	ok = true
	return a, nil
}

func (b *AppBuilder) limitsSource(cfg config.SafetyConfig) (safety.LimitsSource, error) {
	if strings.TrimSpace(cfg.LimitsPath) == "" {
		return safety.StaticLimits(cfg.Limits), nil
	}
	l, err := cfgloader.NewLimitsLoader(cfg.LimitsPath, cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("加载安全阈值失败: %w", err)
	}
	l.Subscribe(func(snap cfgloader.LimitsSnapshot) {
		cur := snap.Limits
		logger.Infof("安全阈值已更新: position=%g%% risk=%g%% spread=%g%%", cur.MaxPositionSize, cur.MaxRiskPercent, cur.MaxSpreadPct)
	})
	return l, nil
}

func buildBrokerStack(bc config.BrokerConfig, mc config.MarketConfig) (*brokerStack, error) {
	cal, err := market.NewStaticCalendar(mc.Timezone, mc.Holidays)
	if err != nil {
		return nil, err
	}
	stack := &brokerStack{Clock: cal, Loc: cal.Location()}
	hasKeys := strings.TrimSpace(bc.APIKey) != "" && strings.TrimSpace(bc.APISecret) != ""
	if bc.IsPaper() && !hasKeys {
		stack.Broker = paper.New(bc.PaperCash)
		logger.Warnf("使用 paper broker（初始现金 %.2f），未配置 Alpaca 密钥，无实时报价", bc.PaperCash)
		return stack, nil
	}
	client, err := alpaca.New(alpaca.Config{
		APIKey:            bc.APIKey,
		APISecret:         bc.APISecret,
		BaseURL:           bc.BaseURL,
		DataURL:           bc.DataURL,
		RequestsPerMinute: bc.RequestsPerMinute,
	})
	if err != nil {
		return nil, err
	}
	stack.Bars = client
	if bc.IsPaper() {
		// 本地撮合，报价取自 Alpaca 行情
		stack.Broker = paper.New(bc.PaperCash, paper.WithQuoter(client))
		logger.Infof("使用 paper broker（初始现金 %.2f），报价来自 Alpaca", bc.PaperCash)
		if mc.Calendar == "alpaca" {
			stack.Clock = client
		}
		return stack, nil
	}
	stack.Broker = client
	if mc.Calendar == "alpaca" {
		stack.Clock = client
	}
	return stack, nil
}

func buildTelegram(cfg config.TelegramConfig) notify.TextNotifier {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.BotToken) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		logger.Warnf("Telegram 已启用但缺少 bot_token/chat_id，跳过")
		return nil
	}
	return notify.NewTelegram(cfg.BotToken, cfg.ChatID)
}
