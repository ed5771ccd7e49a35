package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/goal"
	"goaltrader/internal/logger"
	"goaltrader/internal/notify"
	"goaltrader/internal/store"
)

// Request 描述新建目标的参数；Kind 与 TargetValue 创建后不可修改。
type Request struct {
	Kind                goal.Kind  `json:"kind"`
	TargetValue         float64    `json:"target_value"`
	DailyTradingEnabled bool       `json:"daily_trading_enabled"`
	Description         string     `json:"description"`
	Deadline            *time.Time `json:"deadline,omitempty"`
}

// Outcome 是一次会话结束后进度评估的结果。
type Outcome struct {
	Snapshot      goal.ProgressSnapshot `json:"snapshot"`
	NewMilestones []int                 `json:"new_milestones,omitempty"`
	Completed     bool                  `json:"completed"`
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.nowFn = now
		}
	}
}

func WithSink(sink notify.Sink) Option {
	return func(t *Tracker) {
		if sink != nil {
			t.sink = sink
		}
	}
}

// Tracker 负责目标的生命周期与进度评估。自身无状态，并发安全依赖 store 的 CAS。
type Tracker struct {
	store    store.GoalStore
	accounts broker.AccountReader
	sink     notify.Sink
	nowFn    func() time.Time
}

func New(st store.GoalStore, accounts broker.AccountReader, opts ...Option) *Tracker {
	t := &Tracker{store: st, accounts: accounts, sink: notify.LogSink{}, nowFn: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateGoal 以当前组合为基线创建 active 目标；校验失败时不落库。
func (t *Tracker) CreateGoal(ctx context.Context, req Request) (goal.Goal, error) {
	kind, err := goal.ParseKind(string(req.Kind))
	if err != nil {
		return goal.Goal{}, err
	}
	now := t.nowFn()
	if req.Deadline != nil && !req.Deadline.After(now) {
		return goal.Goal{}, fmt.Errorf("%w: deadline %s is in the past", goal.ErrInvalidGoal, req.Deadline.Format(time.RFC3339))
	}
	if req.TargetValue <= 0 {
		return goal.Goal{}, fmt.Errorf("%w: target_value must be positive", goal.ErrInvalidGoal)
	}
	state, err := t.accounts.AccountState(ctx)
	if err != nil {
		return goal.Goal{}, fmt.Errorf("read portfolio for baseline: %w", err)
	}
	baseline := goal.Measure(state)
	if err := goal.ValidateTarget(kind, req.TargetValue, baseline); err != nil {
		return goal.Goal{}, err
	}
	g := goal.Goal{
		Kind:                kind,
		TargetValue:         req.TargetValue,
		Baseline:            baseline,
		Status:              goal.StatusActive,
		DailyTradingEnabled: req.DailyTradingEnabled,
		Description:         strings.TrimSpace(req.Description),
		Deadline:            req.Deadline,
		CreatedAt:           now.UTC(),
	}
	id, err := t.store.Create(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	logger.With("goal_id", id).Infof("goal created kind=%s target=%g baseline=%.2f risk=%.2f%%",
		kind, req.TargetValue, baseline.Value, baseline.RiskPct)
	return t.store.Get(ctx, id)
}

// RecordSessionOutcome 计算进度、追加快照、触发里程碑；进度 ≥100 时以 CAS 完成目标。
func (t *Tracker) RecordSessionOutcome(ctx context.Context, goalID string, state broker.AccountState) (Outcome, error) {
	g, err := t.store.Get(ctx, goalID)
	if err != nil {
		return Outcome{}, err
	}
	if g.Status.Terminal() {
		return Outcome{}, fmt.Errorf("%w: goal %s is %s", goal.ErrInvalidTransition, goalID, g.Status)
	}
	prev, err := t.store.LatestSnapshot(ctx, goalID)
	if err != nil {
		return Outcome{}, err
	}
	now := t.nowFn()
	current := goal.Measure(state)
	pct := goal.Progress(g.Kind, g.Baseline, g.TargetValue, current)
	snap := goal.ProgressSnapshot{
		GoalID:       goalID,
		Timestamp:    now.UTC(),
		CurrentValue: goal.CurrentValue(g.Kind, current),
		PctComplete:  goal.Round(pct, 4),
		Trend:        goal.ClassifyTrend(prev, pct, now),
	}
	if err := t.store.AppendSnapshot(ctx, snap); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Snapshot: snap}

	if crossed := goal.NewMilestones(g.MilestonesFired, pct); len(crossed) > 0 {
		added, err := t.store.MarkMilestones(ctx, goalID, crossed)
		if err != nil {
			return out, err
		}
		out.NewMilestones = added
		for _, m := range added {
			t.sink.Notify(ctx, notify.Event{
				Kind: notify.KindMilestone, GoalID: goalID, Description: g.Description,
				Threshold: m, Progress: snap.PctComplete, At: now,
			})
		}
	}

	// 完成判断用未取整的进度，99.99995 不算完成
	if goal.Reached(pct, 100) {
		swapped, err := t.store.CompareAndSwapStatus(ctx, goalID, goal.StatusActive, goal.StatusCompleted, now)
		if err != nil {
			return out, err
		}
		// 输掉 CAS 说明目标已被暂停或停止，不算错误
		if swapped {
			out.Completed = true
			t.sink.Notify(ctx, notify.Event{
				Kind: notify.KindCompleted, GoalID: goalID, Description: g.Description, Progress: snap.PctComplete, At: now,
			})
		}
	}
	return out, nil
}

// StopGoal 幂等：终态直接返回；并发停止只有一次状态迁移生效。
func (t *Tracker) StopGoal(ctx context.Context, id string) (goal.Goal, error) {
	for {
		g, err := t.store.Get(ctx, id)
		if err != nil {
			return goal.Goal{}, err
		}
		if g.Status.Terminal() {
			return g, nil
		}
		swapped, err := t.store.CompareAndSwapStatus(ctx, id, g.Status, goal.StatusStopped, t.nowFn())
		if err != nil {
			return goal.Goal{}, err
		}
		if swapped {
			t.statusChanged(ctx, g, goal.StatusStopped, "stopped by user")
			return t.store.Get(ctx, id)
		}
		if err := ctx.Err(); err != nil {
			return goal.Goal{}, err
		}
	}
}

// PauseGoal 只允许 active→paused；已暂停时为空操作。
func (t *Tracker) PauseGoal(ctx context.Context, id, reason string) (goal.Goal, error) {
	return t.move(ctx, id, goal.StatusActive, goal.StatusPaused, reason)
}

// ResumeGoal 只允许 paused→active；已激活时为空操作。
func (t *Tracker) ResumeGoal(ctx context.Context, id string) (goal.Goal, error) {
	return t.move(ctx, id, goal.StatusPaused, goal.StatusActive, "resumed")
}

// FailGoal 用于截止日期已过等无法继续的情况。
func (t *Tracker) FailGoal(ctx context.Context, id, reason string) (goal.Goal, error) {
	return t.move(ctx, id, goal.StatusActive, goal.StatusFailed, reason)
}

func (t *Tracker) move(ctx context.Context, id string, from, to goal.Status, reason string) (goal.Goal, error) {
	g, err := t.store.Get(ctx, id)
	if err != nil {
		return goal.Goal{}, err
	}
	if g.Status == to {
		return g, nil
	}
	if g.Status != from {
		return g, fmt.Errorf("%w: %s -> %s", goal.ErrInvalidTransition, g.Status, to)
	}
	swapped, err := t.store.CompareAndSwapStatus(ctx, id, from, to, t.nowFn())
	if err != nil {
		return g, err
	}
	latest, err := t.store.Get(ctx, id)
	if err != nil {
		return g, err
	}
	if !swapped {
		if latest.Status == to {
			return latest, nil
		}
		return latest, fmt.Errorf("%w: %s -> %s (now %s)", goal.ErrInvalidTransition, from, to, latest.Status)
	}
	t.statusChanged(ctx, g, to, reason)
	return latest, nil
}

func (t *Tracker) statusChanged(ctx context.Context, g goal.Goal, to goal.Status, reason string) {
	t.sink.Notify(ctx, notify.Event{
		Kind: notify.KindStatus, GoalID: g.ID, Description: g.Description,
		From: g.Status, To: to, Detail: reason, At: t.nowFn(),
	})
}

// RecordSession 追加会话历史并推送会话摘要。
func (t *Tracker) RecordSession(ctx context.Context, s goal.Session) error {
	if s.GoalID == "" {
		return errors.New("session requires goal_id")
	}
	if err := t.store.AppendSession(ctx, s); err != nil {
		return err
	}
	if err := t.store.TouchSession(ctx, s.GoalID, s.StartedAt); err != nil {
		return err
	}
	t.sink.Notify(ctx, notify.Event{Kind: notify.KindSession, GoalID: s.GoalID, Session: &s, At: s.EndedAt})
	return nil
}

func (t *Tracker) Get(ctx context.Context, id string) (goal.Goal, error) {
	return t.store.Get(ctx, id)
}

func (t *Tracker) ListGoals(ctx context.Context, statuses ...goal.Status) ([]goal.Goal, error) {
	return t.store.List(ctx, statuses...)
}

// LatestProgress 返回最近一次快照的完成度，没有快照时为 0。
func (t *Tracker) LatestProgress(ctx context.Context, id string) (float64, goal.Trend, error) {
	snap, err := t.store.LatestSnapshot(ctx, id)
	if err != nil {
		return 0, goal.TrendInsufficient, err
	}
	if snap == nil {
		return 0, goal.TrendInsufficient, nil
	}
	return snap.PctComplete, snap.Trend, nil
}
