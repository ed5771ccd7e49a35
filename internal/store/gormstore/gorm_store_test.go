package gormstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"goaltrader/internal/goal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "goals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleGoal() goal.Goal {
	return goal.Goal{
		Kind:                goal.KindPortfolioGainPct,
		TargetValue:         10,
		Baseline:            goal.Metrics{Value: 100000, RiskPct: 40},
		Status:              goal.StatusActive,
		DailyTradingEnabled: true,
		Description:         "grow 10%",
	}
}

func TestGormStore_CreateGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, sampleGoal())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	g, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, goal.KindPortfolioGainPct, g.Kind)
	assert.Equal(t, 10.0, g.TargetValue)
	assert.Equal(t, 100000.0, g.Baseline.Value)
	assert.Equal(t, goal.StatusActive, g.Status)
	assert.True(t, g.DailyTradingEnabled)
	assert.Nil(t, g.LastSessionAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, goal.ErrNotFound)

	paused := sampleGoal()
	paused.Status = goal.StatusPaused
	_, err = s.Create(ctx, paused)
	require.NoError(t, err)

	active, err := s.List(ctx, goal.StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGormStore_UpdateStatusRejectsBackwardMoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, sampleGoal())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, id, goal.StatusPaused))
	require.NoError(t, s.UpdateStatus(ctx, id, goal.StatusActive))
	require.NoError(t, s.UpdateStatus(ctx, id, goal.StatusCompleted))

	err = s.UpdateStatus(ctx, id, goal.StatusActive)
	assert.ErrorIs(t, err, goal.ErrInvalidTransition)

	g, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusCompleted, g.Status)
	assert.NotNil(t, g.CompletedAt)
}

func TestGormStore_CompareAndSwapRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, sampleGoal())
	require.NoError(t, err)

	targets := []goal.Status{goal.StatusStopped, goal.StatusCompleted, goal.StatusFailed, goal.StatusStopped}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, to := range targets {
		wg.Add(1)
		go func(to goal.Status) {
			defer wg.Done()
			ok, err := s.CompareAndSwapStatus(ctx, id, goal.StatusActive, to, time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	g, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, g.Status.Terminal())
}

func TestGormStore_SnapshotsAreAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, sampleGoal())
	require.NoError(t, err)

	latest, err := s.LatestSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)
	for i, pct := range []float64{10, 30, 55} {
		require.NoError(t, s.AppendSnapshot(ctx, goal.ProgressSnapshot{
			GoalID:      id,
			Timestamp:   base.Add(time.Duration(i) * 24 * time.Hour),
			PctComplete: pct,
			Trend:       goal.TrendSteady,
		}))
	}
	latest, err = s.LatestSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 55.0, latest.PctComplete)

	history, err := s.ListSnapshots(ctx, id, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 30.0, history[0].PctComplete)
	assert.Equal(t, 55.0, history[1].PctComplete)
}

func TestGormStore_MarkMilestonesIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, sampleGoal())
	require.NoError(t, err)

	added, err := s.MarkMilestones(ctx, id, []int{25, 50})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50}, added)

	added, err = s.MarkMilestones(ctx, id, []int{50, 75})
	require.NoError(t, err)
	assert.Equal(t, []int{75}, added)

	g, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 75}, g.MilestonesFired)
}

func TestGormStore_Sessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, sampleGoal())
	require.NoError(t, err)

	at := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchSession(ctx, id, at))
	require.NoError(t, s.AppendSession(ctx, goal.Session{
		GoalID:    id,
		StartedAt: at,
		EndedAt:   at.Add(time.Minute),
		Status:    goal.SessionFailed,
		Error:     "broker timeout",
	}))

	g, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, g.LastSessionAt)
	assert.True(t, g.LastSessionAt.Equal(at))

	sessions, err := s.ListSessions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, goal.SessionFailed, sessions[0].Status)
	assert.Equal(t, "broker timeout", sessions[0].Error)
}
