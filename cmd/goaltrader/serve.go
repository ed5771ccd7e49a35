package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"goaltrader/internal/app"
	"goaltrader/internal/config"
	"goaltrader/internal/logger"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动调度循环与 HTTP 接口",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			closeLogs, err := setupLogs(cfg.App)
			if err != nil {
				return err
			}
			defer closeLogs()
			logger.Infof("✓ 配置加载成功（环境=%s，券商=%s）", cfg.App.Env, cfg.Broker.Provider)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

// setupLogs 把主日志同时写到 stdout 与文件，分析请求/响应写入单独文件。
func setupLogs(cfg config.AppConfig) (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	if f, err := openAppend(cfg.LogPath); err != nil {
		return closeAll, err
	} else if f != nil {
		files = append(files, f)
		mw := io.MultiWriter(os.Stdout, f)
		log.SetOutput(mw)
		logger.SetOutput(mw)
	}
	logger.SetAnalysisWriter(nil)
	if f, err := openAppend(cfg.AnalysisLog); err != nil {
		return closeAll, err
	} else if f != nil {
		files = append(files, f)
		logger.SetAnalysisWriter(f)
	}
	logger.EnableAnalysisDump(cfg.AnalysisDump)
	logger.SetLevel(cfg.LogLevel)
	return closeAll, nil
}

func openAppend(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
