package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"goaltrader/internal/goal"
	"goaltrader/internal/logger"
	"goaltrader/internal/market"
	"goaltrader/internal/scheduler"
	"goaltrader/internal/tracker"
)

const defaultCheckInterval = 5 * time.Minute

type WorkerState string

const (
	StateIdle     WorkerState = "idle"
	StateEligible WorkerState = "eligible"
	StateRunning  WorkerState = "running"
	StateStopped  WorkerState = "stopped"
)

// Runner 执行一次会话；SessionRunner 是默认实现。
type Runner interface {
	Run(ctx context.Context, g goal.Goal) (goal.Session, error)
}

type LoopParams struct {
	Tracker                *tracker.Tracker
	Runner                 Runner
	Clock                  market.Clock
	Location               *time.Location
	CheckInterval          time.Duration
	MaxConsecutiveFailures int
	RunOnStart             bool
	NowFn                  func() time.Time
	// OnStateChange 仅用于观测，回调中不得阻塞
	OnStateChange func(goalID string, from, to WorkerState)
}

// Loop 为每个 active/paused 目标维护一个 worker goroutine。worker 之间不共享锁，
// 跨目标的一致性只依赖 store 的 CAS。
type Loop struct {
	tracker     *tracker.Tracker
	runner      Runner
	clock       market.Clock
	loc         *time.Location
	ticker      *scheduler.AlignedTicker
	maxFailures int
	runOnStart  bool
	nowFn       func() time.Time
	onChange    func(goalID string, from, to WorkerState)

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	workers  map[string]*worker
	running  map[string]*sync.Mutex // 同一目标的会话互斥
	failures map[string]int         // 连续失败次数
	wg       sync.WaitGroup
}

func NewLoop(p LoopParams) *Loop {
	interval := p.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	now := p.NowFn
	if now == nil {
		now = time.Now
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Loop{
		tracker:     p.Tracker,
		runner:      p.Runner,
		clock:       p.Clock,
		loc:         loc,
		ticker:      scheduler.NewAlignedTicker(interval, 0).WithClock(now),
		maxFailures: p.MaxConsecutiveFailures,
		runOnStart:  p.RunOnStart,
		nowFn:       now,
		onChange:    p.OnStateChange,
		workers:     make(map[string]*worker),
		running:     make(map[string]*sync.Mutex),
		failures:    make(map[string]int),
	}
}

// Start 加载 active/paused 目标并启动 worker；ctx 取消后所有 worker 退出。
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.ctx != nil {
		l.mu.Unlock()
		return errors.New("engine loop already started")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	goals, err := l.tracker.ListGoals(ctx, goal.StatusActive, goal.StatusPaused)
	if err != nil {
		return fmt.Errorf("load goals: %w", err)
	}
	for _, g := range goals {
		l.Watch(g.ID)
	}
	logger.Infof("engine loop started goals=%d interval=%s", len(goals), l.ticker.Interval)
	return nil
}

// Run 供 errgroup 使用：Start 后阻塞到 ctx 结束并等待 worker 退出。
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	l.Stop()
	return nil
}

// Watch 为新目标启动 worker；已存在时唤醒它立即重新检查。
func (l *Loop) Watch(goalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil || l.ctx.Err() != nil {
		return
	}
	if w, ok := l.workers[goalID]; ok {
		w.poke()
		return
	}
	w := newWorker(goalID)
	l.workers[goalID] = w
	l.wg.Add(1)
	go l.runWorker(l.ctx, w)
}

// States 返回各 worker 的当前状态快照。
func (l *Loop) States() map[string]WorkerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]WorkerState, len(l.workers))
	for id, w := range l.workers {
		out[id] = w.current()
	}
	return out
}

// Watched 返回按 id 排序的 worker 列表。
func (l *Loop) Watched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.workers))
	for id := range l.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunNow 立即为目标执行一次会话（忽略时段与当日是否已执行），与定时会话互斥。
func (l *Loop) RunNow(ctx context.Context, goalID string) (goal.Session, error) {
	g, err := l.tracker.Get(ctx, goalID)
	if err != nil {
		return goal.Session{}, err
	}
	if g.Status != goal.StatusActive {
		return goal.Session{}, fmt.Errorf("%w: goal %s is %s", goal.ErrInvalidTransition, goalID, g.Status)
	}
	mu := l.sessionLock(goalID)
	mu.Lock()
	defer mu.Unlock()
	return l.session(ctx, g)
}

func (l *Loop) sessionLock(goalID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.running[goalID]
	if !ok {
		mu = &sync.Mutex{}
		l.running[goalID] = mu
	}
	return mu
}

// ConsecutiveFailures 返回目标当前的连续失败会话数。
func (l *Loop) ConsecutiveFailures(goalID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[goalID]
}

// Stop 取消全部 worker 并等待退出。
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Loop) runWorker(ctx context.Context, w *worker) {
	defer l.wg.Done()
	defer func() {
		l.setState(w, StateStopped)
		l.mu.Lock()
		if l.workers[w.goalID] == w {
			delete(l.workers, w.goalID)
		}
		l.mu.Unlock()
	}()
	log := logger.With("goal_id", w.goalID)
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		g, err := l.tracker.Get(ctx, w.goalID)
		switch {
		case errors.Is(err, goal.ErrNotFound):
			log.Warnf("goal disappeared, worker exits")
			return
		case err != nil:
			log.Warnf("load goal: %v", err)
		case g.Status.Terminal():
			log.Infof("goal is %s, worker exits", g.Status)
			return
		default:
			l.tick(ctx, w, g, first && l.runOnStart)
		}
		first = false
		if err := l.wait(ctx, w); err != nil {
			return
		}
	}
}

func (l *Loop) tick(ctx context.Context, w *worker, g goal.Goal, force bool) {
	l.setState(w, StateIdle)
	ok, reason := l.eligible(ctx, g, force)
	if !ok {
		logger.With("goal_id", g.ID).Debugf("not eligible: %s", reason)
		return
	}
	l.setState(w, StateEligible)
	mu := l.sessionLock(g.ID)
	mu.Lock()
	defer mu.Unlock()
	// 拿到锁之后重新读取，RunNow 可能刚执行过或目标已被停止
	fresh, err := l.tracker.Get(ctx, g.ID)
	if err != nil {
		l.setState(w, StateIdle)
		return
	}
	if ok, _ := l.eligible(ctx, fresh, force); !ok {
		l.setState(w, StateIdle)
		return
	}
	l.setState(w, StateRunning)
	_, _ = l.session(ctx, fresh)
	l.setState(w, StateIdle)
}

// eligible 判断当前是否应运行会话；截止日期已过的目标在这里置为 failed。
func (l *Loop) eligible(ctx context.Context, g goal.Goal, force bool) (bool, string) {
	now := l.nowFn()
	if g.Deadline != nil && now.After(*g.Deadline) && g.Status == goal.StatusActive {
		if _, err := l.tracker.FailGoal(ctx, g.ID, "deadline passed"); err != nil {
			logger.With("goal_id", g.ID).Warnf("fail expired goal: %v", err)
		}
		return false, "deadline passed"
	}
	if g.Status != goal.StatusActive {
		return false, "status " + string(g.Status)
	}
	if !g.DailyTradingEnabled {
		return false, "daily trading disabled"
	}
	if l.clock != nil {
		st, err := l.clock.Status(ctx, now)
		if err != nil {
			return false, "market clock: " + err.Error()
		}
		if !st.IsOpen {
			return false, "market " + st.Label
		}
	}
	if force {
		return true, ""
	}
	if g.LastSessionAt != nil && market.TradingDate(*g.LastSessionAt, l.loc) == market.TradingDate(now, l.loc) {
		return false, "already traded today"
	}
	return true, ""
}

func (l *Loop) session(ctx context.Context, g goal.Goal) (goal.Session, error) {
	sess, err := l.runner.Run(ctx, g)
	l.mu.Lock()
	if sess.Status != goal.SessionFailed {
		delete(l.failures, g.ID)
		l.mu.Unlock()
		return sess, err
	}
	l.failures[g.ID]++
	n := l.failures[g.ID]
	l.mu.Unlock()
	if l.maxFailures <= 0 || n < l.maxFailures {
		return sess, err
	}
	reason := fmt.Sprintf("%d consecutive failed sessions, last: %s", n, sess.Error)
	log := logger.With("goal_id", g.ID)
	if _, perr := l.tracker.PauseGoal(context.WithoutCancel(ctx), g.ID, reason); perr != nil {
		log.Warnf("auto pause: %v", perr)
		return sess, err
	}
	log.Warnf("goal paused: %s", reason)
	l.mu.Lock()
	delete(l.failures, g.ID)
	l.mu.Unlock()
	return sess, err
}

func (l *Loop) wait(ctx context.Context, w *worker) error {
	wakeAt, _ := l.ticker.NextTimes(l.nowFn())
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.wake:
			cancel()
		case <-wctx.Done():
		}
	}()
	err := l.ticker.WaitUntil(wctx, wakeAt)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (l *Loop) setState(w *worker, to WorkerState) {
	from := w.set(to)
	if from != to && l.onChange != nil {
		l.onChange(w.goalID, from, to)
	}
}
