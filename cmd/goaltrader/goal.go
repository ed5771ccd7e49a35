package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"goaltrader/internal/transport/http/api"

	"github.com/spf13/cobra"
)

func newGoalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "管理交易目标"}

	var body api.CreateGoalBody
	var noDaily bool
	create := &cobra.Command{
		Use:   "create",
		Short: "创建目标并记录当前账户基线",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noDaily {
				off := false
				body.DailyTradingEnabled = &off
			}
			raw, err := opts.client().CreateGoal(cmd.Context(), body)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
	create.Flags().StringVar(&body.Kind, "kind", "", "portfolio_gain_pct | daily_profit_abs | portfolio_value_abs | risk_reduction_pct | custom")
	create.Flags().Float64Var(&body.TargetValue, "target", 0, "目标值")
	create.Flags().StringVar(&body.Description, "desc", "", "描述")
	create.Flags().StringVar(&body.Deadline, "deadline", "", "截止时间 (RFC3339 或 YYYY-MM-DD)")
	create.Flags().BoolVar(&noDaily, "no-daily", false, "不参与每日自动交易")
	_ = create.MarkFlagRequired("kind")
	_ = create.MarkFlagRequired("target")
	cmd.AddCommand(create)

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "列出目标",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().ListGoals(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "按状态过滤，可多次指定")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "汇总所有目标的进度、近期绩效与排行榜",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().Summary(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "leaderboard",
		Short: "按进度排列活跃目标，附最近一周胜率与盈亏",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().Leaderboard(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})

	var history int
	show := &cobra.Command{
		Use:   "show <goal-id>",
		Short: "查看目标进度、历史快照与会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().Progress(cmd.Context(), args[0], history)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
	show.Flags().IntVar(&history, "history", 30, "返回的快照数量")
	cmd.AddCommand(show)

	var out string
	chart := &cobra.Command{
		Use:   "chart <goal-id>",
		Short: "导出进度曲线 HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			html, err := opts.client().Chart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".html"
			}
			if err := os.WriteFile(out, html, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ 已写入 %s\n", out)
			return nil
		},
	}
	chart.Flags().StringVarP(&out, "out", "o", "", "输出文件")
	cmd.AddCommand(chart)

	for _, action := range []struct{ name, short string }{
		{"stop", "停止目标（终态）"},
		{"pause", "暂停目标"},
		{"resume", "恢复已暂停的目标"},
		{"run", "立即执行一次会话（经插队队列）"},
	} {
		var reason string
		sub := &cobra.Command{
			Use:   action.name + " <goal-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := opts.client().GoalAction(cmd.Context(), args[0], action.name, reason)
				if err != nil {
					return err
				}
				printJSON(cmd, raw)
				return nil
			},
		}
		if action.name == "pause" {
			sub.Flags().StringVar(&reason, "reason", "", "暂停原因")
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "插队任务"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "查看等待中的任务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().Queue(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})

	var goalID, priority string
	add := &cobra.Command{
		Use:   "add <description...>",
		Short: "提交任务：run/pause/resume/stop <goal-id> 或自由文本备注",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().Submit(cmd.Context(), strings.Join(args, " "), goalID, priority)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
	add.Flags().StringVar(&goalID, "goal", "", "关联的目标")
	add.Flags().StringVar(&priority, "priority", "normal", "high | normal | low")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "空闲时立即处理等待中的任务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().Drain(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <task-id>",
		Short: "取消等待中的任务",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ 已取消")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "states",
		Short: "查看各目标 worker 状态",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().EngineStates(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})
	return cmd
}

func newExecutionsCmd(opts *rootOptions) *cobra.Command {
	var goalID, symbol, session string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "查询执行审计日志",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			set := func(k, v string) {
				if v != "" {
					q.Set(k, v)
				}
			}
			set("goal_id", goalID)
			set("symbol", strings.ToUpper(symbol))
			set("session_ts", session)
			q.Set("limit", fmt.Sprint(limit))
			q.Set("offset", fmt.Sprint(offset))
			raw, err := opts.client().Executions(cmd.Context(), q)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "目标 ID")
	cmd.Flags().StringVar(&symbol, "symbol", "", "代码")
	cmd.Flags().StringVar(&session, "session-ts", "", "会话开始时间 (unix 秒)")
	cmd.Flags().IntVar(&limit, "limit", 50, "条数")
	cmd.Flags().IntVar(&offset, "offset", 0, "偏移")
	return cmd
}
