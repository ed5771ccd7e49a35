package tracker

import (
	"context"
	"sort"

	"goaltrader/internal/goal"
)

const nearCompletionPct = 80

// Report 是单个目标的进度详情。
type Report struct {
	Goal             goal.Goal               `json:"goal"`
	Latest           *goal.ProgressSnapshot  `json:"latest,omitempty"`
	History          []goal.ProgressSnapshot `json:"history"`
	Sessions         []goal.Session          `json:"sessions"`
	Trend            goal.Trend              `json:"trend"`
	DaysToCompletion *float64                `json:"days_to_completion,omitempty"`
	DaysActive       int                     `json:"days_active"`
	Performance      Performance             `json:"performance"`
	Recommendations  []string                `json:"recommendations"`
}

func (t *Tracker) GetProgress(ctx context.Context, id string, historyLimit int) (Report, error) {
	g, err := t.store.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	history, err := t.store.ListSnapshots(ctx, id, g.CreatedAt.AddDate(0, 0, -1), historyLimit)
	if err != nil {
		return Report{}, err
	}
	sessions, err := t.store.ListSessions(ctx, id, performanceLookup)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Goal: g, History: history, Sessions: sessions, Trend: goal.TrendInsufficient}
	if n := len(history); n > 0 {
		latest := history[n-1]
		rep.Latest = &latest
		rep.Trend = latest.Trend
	}
	if days, ok := goal.EstimateDaysToCompletion(history); ok {
		rep.DaysToCompletion = &days
	}
	now := t.nowFn()
	pct := 0.0
	if rep.Latest != nil {
		pct = rep.Latest.PctComplete
	}
	rep.DaysActive = daysActive(g, now)
	rep.Performance = performanceOf(sessions, now.Add(-performanceWindow))
	rep.Recommendations = advise(g, pct, rep.Performance, rep.Trend, now)
	return rep, nil
}

// LeaderboardEntry 是排行榜上的一个活跃目标。
type LeaderboardEntry struct {
	GoalID       string  `json:"goal_id"`
	Description  string  `json:"description,omitempty"`
	PctComplete  float64 `json:"pct_complete"`
	CurrentValue float64 `json:"current_value"`
	TargetValue  float64 `json:"target_value"`
	DaysActive   int     `json:"days_active"`
	WinRate      float64 `json:"win_rate"`
	TotalProfit  float64 `json:"total_profit"`
}

// Leaderboard 按进度降序列出活跃目标，附最近一周的胜率与盈亏。
func (t *Tracker) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	goals, err := t.store.List(ctx, goal.StatusActive)
	if err != nil {
		return nil, err
	}
	now := t.nowFn()
	out := make([]LeaderboardEntry, 0, len(goals))
	for _, g := range goals {
		snap, err := t.store.LatestSnapshot(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		sessions, err := t.store.ListSessions(ctx, g.ID, performanceLookup)
		if err != nil {
			return nil, err
		}
		perf := performanceOf(sessions, now.Add(-performanceWindow))
		entry := LeaderboardEntry{
			GoalID:       g.ID,
			Description:  g.Description,
			CurrentValue: goal.CurrentValue(g.Kind, g.Baseline),
			TargetValue:  g.TargetValue,
			DaysActive:   daysActive(g, now),
			WinRate:      perf.WinRate,
			TotalProfit:  perf.TotalProfit,
		}
		if snap != nil {
			entry.PctComplete = snap.PctComplete
			entry.CurrentValue = snap.CurrentValue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PctComplete > out[j].PctComplete })
	return out, nil
}

type GoalProgress struct {
	ID          string      `json:"id"`
	Kind        goal.Kind   `json:"kind"`
	Description string      `json:"description,omitempty"`
	Status      goal.Status `json:"status"`
	PctComplete float64     `json:"pct_complete"`
	Trend       goal.Trend  `json:"trend"`
}

// Summary 汇总所有目标：按状态计数、活跃目标平均进度、接近完成的目标、
// 全部目标最近一周的合并绩效与活跃目标排行榜。
type Summary struct {
	Total           int                 `json:"total"`
	ByStatus        map[goal.Status]int `json:"by_status"`
	AverageProgress float64             `json:"average_progress"`
	NearCompletion  []GoalProgress      `json:"near_completion"`
	Goals           []GoalProgress      `json:"goals"`
	Performance     Performance         `json:"performance"`
	Leaderboard     []LeaderboardEntry  `json:"leaderboard"`
}

func (t *Tracker) Summary(ctx context.Context) (Summary, error) {
	goals, err := t.store.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Total: len(goals), ByStatus: make(map[goal.Status]int)}
	var (
		activeTotal float64
		activeCount int
	)
	now := t.nowFn()
	var recent []goal.Session
	for _, g := range goals {
		sum.ByStatus[g.Status]++
		sessions, err := t.store.ListSessions(ctx, g.ID, performanceLookup)
		if err != nil {
			return Summary{}, err
		}
		recent = append(recent, sessions...)
		pct, trend, err := t.LatestProgress(ctx, g.ID)
		if err != nil {
			return Summary{}, err
		}
		gp := GoalProgress{ID: g.ID, Kind: g.Kind, Description: g.Description, Status: g.Status, PctComplete: pct, Trend: trend}
		sum.Goals = append(sum.Goals, gp)
		if g.Status != goal.StatusActive {
			continue
		}
		activeTotal += pct
		activeCount++
		if pct >= nearCompletionPct {
			sum.NearCompletion = append(sum.NearCompletion, gp)
		}
	}
	if activeCount > 0 {
		sum.AverageProgress = goal.Round(activeTotal/float64(activeCount), 2)
	}
	sort.SliceStable(sum.NearCompletion, func(i, j int) bool {
		return sum.NearCompletion[i].PctComplete > sum.NearCompletion[j].PctComplete
	})
	sum.Performance = performanceOf(recent, now.Add(-performanceWindow))
	if sum.Leaderboard, err = t.Leaderboard(ctx); err != nil {
		return Summary{}, err
	}
	return sum, nil
}
