package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"goaltrader/internal/config"
	"goaltrader/internal/pkg/jsonutil"
	"goaltrader/internal/transport/http/api"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	apiAddr    string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "goaltrader",
		Short:         "目标驱动的持续交易引擎",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env 可选，不存在时忽略
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			if opts.apiAddr == "" {
				opts.apiAddr = defaultAPIAddr(opts.configPath)
			}
			return nil
		},
	}
	cfgPath := os.Getenv("GOALTRADER_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", cfgPath, "配置文件路径")
	root.PersistentFlags().StringVar(&opts.apiAddr, "api", os.Getenv("GOALTRADER_API"), "运行中服务的地址，默认取配置中的 app.http_addr")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "接口请求超时")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newGoalCmd(opts))
	root.AddCommand(newQueueCmd(opts))
	root.AddCommand(newExecutionsCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

func (o *rootOptions) client() *api.Client {
	return api.NewClient(o.apiAddr, o.timeout)
}

func defaultAPIAddr(configPath string) string {
	addr := ":9991"
	if cfg, err := config.Load(configPath); err == nil && cfg.App.HTTPAddr != "" {
		addr = cfg.App.HTTPAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return addr
}

func printJSON(cmd *cobra.Command, raw []byte) {
	fmt.Fprintln(cmd.OutOrStdout(), jsonutil.Pretty(string(raw)))
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "配置检查"}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "加载并校验配置",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s 有效（券商=%s，检查间隔=%s）\n", opts.configPath, cfg.Broker.Provider, cfg.Scheduler.CheckInterval)
			return nil
		},
	})
	return cmd
}
