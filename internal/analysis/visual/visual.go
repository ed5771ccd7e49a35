package visual

import (
	"bytes"
	"fmt"
	"strings"

	"goaltrader/internal/goal"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorProgress      = "#34d399"
	colorTarget        = "#fbbf24"
	colorValue         = "#3b82f6"

	chartWidthPx  = 1200
	chartHeightPx = 520
)

// ProgressInput 是渲染目标进度图所需的数据；History 按时间升序。
type ProgressInput struct {
	Goal    goal.Goal
	History []goal.ProgressSnapshot
}

// RenderProgressHTML 输出一个独立的 echarts HTML 页面：完成度折线 + 100% 目标线，
// 副轴为快照中的 current_value。
func RenderProgressHTML(input ProgressInput) ([]byte, error) {
	if len(input.History) == 0 {
		return nil, fmt.Errorf("goal %s has no progress snapshots yet", input.Goal.ID)
	}
	g := input.Goal
	xAxis := make([]string, 0, len(input.History))
	pct := make([]opts.LineData, 0, len(input.History))
	target := make([]opts.LineData, 0, len(input.History))
	values := make([]opts.LineData, 0, len(input.History))
	for _, snap := range input.History {
		xAxis = append(xAxis, snap.Timestamp.UTC().Format("01-02 15:04"))
		pct = append(pct, opts.LineData{Value: goal.Round(snap.PctComplete, 2)})
		target = append(target, opts.LineData{Value: 100})
		values = append(values, opts.LineData{Value: goal.Round(snap.CurrentValue, 2), YAxisIndex: 1})
	}
	latest := input.History[len(input.History)-1]

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
			PageTitle:       "goal " + g.ID,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title(g),
			Subtitle:      fmt.Sprintf("%s | progress %.2f%% | trend %s | milestones %s", g.Status, latest.PctComplete, latest.Trend, milestones(g.MilestonesFired)),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "40", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "% complete",
			Min:       0,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.ExtendYAxis(opts.YAxis{
		Name:      valueAxisName(g.Kind),
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
	})
	line.SetXAxis(xAxis).
		AddSeries("progress %", pct, charts.WithLineStyleOpts(opts.LineStyle{Color: colorProgress, Width: 3})).
		AddSeries("target", target, charts.WithLineStyleOpts(opts.LineStyle{Color: colorTarget, Width: 1, Type: "dashed"})).
		AddSeries(valueAxisName(g.Kind), values, charts.WithLineStyleOpts(opts.LineStyle{Color: colorValue, Width: 2}))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func title(g goal.Goal) string {
	t := fmt.Sprintf("%s → %g", g.Kind, g.TargetValue)
	if d := strings.TrimSpace(g.Description); d != "" {
		t = d + " (" + t + ")"
	}
	return t
}

func valueAxisName(kind goal.Kind) string {
	switch kind {
	case goal.KindDailyProfitAbs:
		return "day P&L"
	case goal.KindRiskReductionPct:
		return "risk %"
	default:
		return "portfolio value"
	}
}

func milestones(fired []int) string {
	if len(fired) == 0 {
		return "none"
	}
	parts := make([]string, len(fired))
	for i, m := range fired {
		parts[i] = fmt.Sprintf("%d%%", m)
	}
	return strings.Join(parts, ",")
}
