package tracker

import (
	"context"
	"testing"
	"time"

	"goaltrader/internal/goal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformanceOf(t *testing.T) {
	now := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	sessions := []goal.Session{
		{StartedAt: now.Add(-1 * time.Hour), ActionsExecuted: 2, ProfitLoss: 300},
		{StartedAt: now.Add(-48 * time.Hour), ActionsExecuted: 1, ProfitLoss: -120.5},
		{StartedAt: now.Add(-72 * time.Hour), ActionsExecuted: 0, ProfitLoss: 0},
		{StartedAt: now.Add(-10 * 24 * time.Hour), ActionsExecuted: 9, ProfitLoss: 5000},
	}
	perf := performanceOf(sessions, now.Add(-performanceWindow))
	assert.Equal(t, 3, perf.TradingDays)
	assert.Equal(t, 3, perf.TotalTrades)
	assert.InDelta(t, 0.3333, perf.WinRate, 1e-9)
	assert.InDelta(t, 179.5, perf.TotalProfit, 1e-9)
	assert.InDelta(t, 59.83, perf.AverageProfit, 1e-9)

	empty := performanceOf(nil, now)
	assert.Zero(t, empty.TradingDays)
	assert.Zero(t, empty.WinRate)
}

func TestAdvise(t *testing.T) {
	now := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	soon := now.Add(3 * 24 * time.Hour)
	active := goal.Goal{Status: goal.StatusActive, Deadline: &soon}

	cases := []struct {
		name  string
		g     goal.Goal
		pct   float64
		perf  Performance
		trend goal.Trend
		want  []string
	}{
		{
			name:  "early goal without sessions",
			g:     goal.Goal{Status: goal.StatusActive},
			pct:   5,
			trend: goal.TrendInsufficient,
			want:  []string{"Focus on establishing a consistent daily trading routine"},
		},
		{
			name:  "weak win rate while declining",
			g:     goal.Goal{Status: goal.StatusActive},
			pct:   35,
			perf:  Performance{TradingDays: 5, WinRate: 0.2},
			trend: goal.TrendDeclining,
			want: []string{
				"Maintain the current trading pace and strategy",
				"Review the trading strategy: win rate 20% is below 40%",
				"Progress is declining, consider adjusting the strategy",
			},
		},
		{
			name:  "strong finish near deadline",
			g:     active,
			pct:   92,
			perf:  Performance{TradingDays: 4, WinRate: 0.75},
			trend: goal.TrendAccelerating,
			want: []string{
				"Almost there, keep momentum for the final push",
				"Win rate 75% is strong, position sizes could grow within limits",
				"Progress is accelerating",
				"Deadline in 3.0 days, trading frequency may need to increase",
			},
		},
		{
			name:  "stopped goal ignores deadline",
			g:     goal.Goal{Status: goal.StatusStopped, Deadline: &soon},
			pct:   60,
			perf:  Performance{TradingDays: 2, WinRate: 0.5},
			trend: goal.TrendStable,
			want:  []string{"Good progress, stay focused on the goal", "Progress is stable"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, advise(tc.g, tc.pct, tc.perf, tc.trend, now))
		})
	}
}

func TestLeaderboardAndSummaryPerformance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fast, err := f.tr.CreateGoal(ctx, Request{Kind: goal.KindPortfolioGainPct, TargetValue: 10, Description: "fast"})
	require.NoError(t, err)
	slow, err := f.tr.CreateGoal(ctx, Request{Kind: goal.KindPortfolioGainPct, TargetValue: 50, Description: "slow"})
	require.NoError(t, err)

	f.advance(24 * time.Hour)
	f.setPrice(150)
	for _, id := range []string{slow.ID, fast.ID} {
		_, err := f.tr.RecordSessionOutcome(ctx, id, f.state(t))
		require.NoError(t, err)
	}

	record := func(id string, ago time.Duration, executed int, pl float64) {
		start := f.now.Add(-ago)
		require.NoError(t, f.tr.RecordSession(ctx, goal.Session{
			GoalID: id, StartedAt: start, EndedAt: start.Add(time.Minute),
			Status: goal.SessionCompleted, ActionsExecuted: executed, ProfitLoss: pl,
		}))
	}
	record(fast.ID, time.Hour, 2, 500)
	record(fast.ID, 2*time.Hour, 1, -100)
	record(fast.ID, 10*24*time.Hour, 7, 999)
	record(slow.ID, time.Hour, 3, 50)

	board, err := f.tr.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, fast.ID, board[0].GoalID)
	assert.Equal(t, slow.ID, board[1].GoalID)
	assert.Greater(t, board[0].PctComplete, board[1].PctComplete)
	assert.InDelta(t, 0.5, board[0].WinRate, 1e-9)
	assert.InDelta(t, 400, board[0].TotalProfit, 1e-9)
	assert.InDelta(t, 1, board[1].WinRate, 1e-9)
	assert.GreaterOrEqual(t, board[0].DaysActive, 1)

	rep, err := f.tr.GetProgress(ctx, fast.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Performance.TradingDays)
	assert.Equal(t, 3, rep.Performance.TotalTrades)
	assert.InDelta(t, 200, rep.Performance.AverageProfit, 1e-9)
	require.NotEmpty(t, rep.Recommendations)

	sum, err := f.tr.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Performance.TradingDays)
	assert.Equal(t, 6, sum.Performance.TotalTrades)
	assert.InDelta(t, 0.6667, sum.Performance.WinRate, 1e-9)
	assert.InDelta(t, 450, sum.Performance.TotalProfit, 1e-9)
	assert.InDelta(t, 150, sum.Performance.AverageProfit, 1e-9)
	require.Len(t, sum.Leaderboard, 2)
	assert.Equal(t, fast.ID, sum.Leaderboard[0].GoalID)

	_, err = f.tr.StopGoal(ctx, slow.ID)
	require.NoError(t, err)
	board, err = f.tr.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, fast.ID, board[0].GoalID)
}
