package app

import (
	"context"
	"errors"
	"fmt"

	"goaltrader/internal/config"
	"goaltrader/internal/engine"
	"goaltrader/internal/intervention"
	"goaltrader/internal/logger"
	"goaltrader/internal/store/execlog"
	"goaltrader/internal/store/gormstore"
	"goaltrader/internal/tracker"
	"goaltrader/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动调度循环与 HTTP 接口。
type App struct {
	cfg         *config.Config
	goals       *gormstore.GormStore
	execLog     *execlog.Store
	tracker     *tracker.Tracker
	loop        *engine.Loop
	coordinator *intervention.Coordinator
	http        *api.Server
	Summary     *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts)
}

// Run 启动调度循环与 HTTP 服务，ctx 取消后等待插队任务结束并关闭存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.loop == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, gctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(gctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.loop.Run(gctx)
	})
	err := group.Wait()
	a.coordinator.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Tracker() *tracker.Tracker { return a.tracker }

func (a *App) Loop() *engine.Loop { return a.loop }

func (a *App) Coordinator() *intervention.Coordinator { return a.coordinator }

func (a *App) ExecLog() *execlog.Store { return a.execLog }

// Close 释放存储句柄；可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.loop != nil {
		a.loop.Stop()
	}
	if a.execLog != nil {
		if err := a.execLog.Close(); err != nil {
			logger.Warnf("close execution log: %v", err)
		}
		a.execLog = nil
	}
	if a.goals != nil {
		if err := a.goals.Close(); err != nil {
			logger.Warnf("close goal store: %v", err)
		}
		a.goals = nil
	}
}
