package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"goaltrader/internal/analysis"
	"goaltrader/internal/analysis/indicator"
	"goaltrader/internal/broker"
	"goaltrader/internal/executor"
	"goaltrader/internal/goal"
	"goaltrader/internal/logger"
	"goaltrader/internal/market"
	"goaltrader/internal/recommend"
	"goaltrader/internal/safety"
	"goaltrader/internal/tracker"
	"goaltrader/internal/trade"

	"github.com/google/uuid"
)

const (
	defaultAnalysisTimeout = 5 * time.Minute
	accountTimeout         = 30 * time.Second
	barsTimeout            = 10 * time.Second
	barsLookback           = 120
	maxTechnicals          = 10
	recordTimeout          = 10 * time.Second
)

// RunnerParams 聚合一次交易会话所需的依赖。
type RunnerParams struct {
	Tracker         *tracker.Tracker
	Analysis        analysis.Engine
	Parser          *recommend.Parser
	Validator       *safety.Validator
	Executor        *executor.Executor
	Broker          broker.Broker
	Clock           market.Clock
	Bars            market.BarSource // 可选；为空时提示词不含技术指标
	Notes           *Notes
	AnalysisTimeout time.Duration
	NowFn           func() time.Time
}

// SessionRunner 执行单个目标的一次完整交易会话：
// 分析 → 解析 → 逐条校验 → 逐条下单 → 记录进度与会话历史。
type SessionRunner struct {
	tracker         *tracker.Tracker
	analysis        analysis.Engine
	parser          *recommend.Parser
	validator       *safety.Validator
	executor        *executor.Executor
	broker          broker.Broker
	clock           market.Clock
	bars            market.BarSource
	notes           *Notes
	analysisTimeout time.Duration
	nowFn           func() time.Time
}

func NewSessionRunner(p RunnerParams) *SessionRunner {
	r := &SessionRunner{
		tracker:         p.Tracker,
		analysis:        p.Analysis,
		parser:          p.Parser,
		validator:       p.Validator,
		executor:        p.Executor,
		broker:          p.Broker,
		clock:           p.Clock,
		bars:            p.Bars,
		notes:           p.Notes,
		analysisTimeout: p.AnalysisTimeout,
		nowFn:           p.NowFn,
	}
	if r.parser == nil {
		r.parser = recommend.MustParser()
	}
	if r.notes == nil {
		r.notes = NewNotes()
	}
	if r.analysisTimeout <= 0 {
		r.analysisTimeout = defaultAnalysisTimeout
	}
	if r.nowFn == nil {
		r.nowFn = time.Now
	}
	return r
}

// Run 返回记录下来的会话。分析或券商错误只让会话失败，目标保持 active；
// 返回的 error 与 Session.Error 一致，供调度器统计连续失败。
func (r *SessionRunner) Run(ctx context.Context, g goal.Goal) (goal.Session, error) {
	started := r.nowFn()
	sess := goal.Session{ID: uuid.NewString(), GoalID: g.ID, StartedAt: started.UTC(), Status: goal.SessionCompleted}
	ref := executor.SessionRef{GoalID: g.ID, SessionID: sess.ID, StartedAt: started}
	log := logger.With("goal_id", g.ID, "session", sess.ID)
	log.Infof("session start kind=%s target=%g", g.Kind, g.TargetValue)

	before, trend, err := r.tracker.LatestProgress(ctx, g.ID)
	if err != nil {
		log.Warnf("read latest progress: %v", err)
	}
	sess.ProgressBefore = before

	var (
		state   broker.AccountState
		haveAcc bool
		failure error
	)
	state, err = r.accountState(ctx)
	if err != nil {
		failure = fmt.Errorf("read account: %w", err)
	} else {
		haveAcc = true
		failure = r.trade(ctx, g, ref, &sess, &state, before, trend)
	}

	// 会话收尾不受调用方取消影响，保证会话和进度落盘
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if latest, err := r.accountState(rctx); err == nil {
		state, haveAcc = latest, true
	} else if failure == nil {
		failure = fmt.Errorf("read account after session: %w", err)
	}
	if haveAcc {
		pnl, _ := state.Equity.Sub(state.LastEquity).Float64()
		sess.ProfitLoss = goal.Round(pnl, 2)
		out, err := r.tracker.RecordSessionOutcome(rctx, g.ID, state)
		switch {
		case err == nil:
			sess.ProgressAfter = out.Snapshot.PctComplete
			if out.Completed {
				sess.Notes = joinNotes(sess.Notes, "goal completed")
			}
		case errors.Is(err, goal.ErrInvalidTransition):
			// 会话期间目标被停止
			log.Infof("goal left active state during session: %v", err)
			sess.ProgressAfter = before
		default:
			log.Errorf("record session outcome: %v", err)
			sess.ProgressAfter = before
		}
	} else {
		sess.ProgressAfter = before
	}

	if failure != nil {
		sess.Status = goal.SessionFailed
		sess.Error = failure.Error()
	}
	sess.EndedAt = r.nowFn().UTC()
	if err := r.tracker.RecordSession(rctx, sess); err != nil {
		log.Errorf("record session: %v", err)
	}
	log.Infof("session end status=%s parsed=%d executed=%d rejected=%d failed=%d progress=%.2f%%->%.2f%%",
		sess.Status, sess.ActionsParsed, sess.ActionsExecuted, sess.ActionsRejected, sess.ActionsFailed,
		sess.ProgressBefore, sess.ProgressAfter)
	return sess, failure
}

func (r *SessionRunner) trade(ctx context.Context, g goal.Goal, ref executor.SessionRef, sess *goal.Session,
	state *broker.AccountState, progress float64, trend goal.Trend) error {
	label := ""
	if r.clock != nil {
		now := r.nowFn()
		if st, err := r.clock.Status(ctx, now); err == nil {
			label = market.HoursMessage(st, now)
		}
	}
	in := analysis.Input{
		Goal:        g,
		Progress:    progress,
		Trend:       trend,
		Account:     *state,
		MarketLabel: label,
		Technicals:  r.technicals(ctx, *state),
		Extra:       strings.Join(r.notes.Take(g.ID), "\n"),
	}
	actx, cancel := context.WithTimeout(ctx, r.analysisTimeout)
	text, err := r.analysis.Recommend(actx, in)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, trade.ErrExternalTimeout) {
			err = fmt.Errorf("%w: %v", trade.ErrExternalTimeout, err)
		}
		return fmt.Errorf("analysis: %w", err)
	}

	res := r.parser.Parse(text)
	sess.ActionsParsed = len(res.Actions)
	for _, rej := range res.Rejections {
		sess.ActionsRejected++
		sess.Notes = joinNotes(sess.Notes, fmt.Sprintf("unparsed %q: %s", rej.Source, rej.Reason))
	}
	if res.Empty() {
		sess.Notes = joinNotes(sess.Notes, "no actionable recommendation")
		return nil
	}

	var failed error
	for _, act := range res.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := r.executeOne(ctx, ref, act, *state)
		switch result.Status {
		case trade.StatusFilled:
			sess.ActionsExecuted++
			if fresh, err := r.accountState(ctx); err == nil {
				*state = fresh
			}
		case trade.StatusRejected:
			sess.ActionsRejected++
		default:
			sess.ActionsFailed++
			if failed == nil {
				failed = fmt.Errorf("execute %s: %s", act, result.Error)
			}
		}
	}
	return failed
}

// technicals 为市值最大的持仓计算日线指标；单个代码失败只跳过。
func (r *SessionRunner) technicals(ctx context.Context, state broker.AccountState) []indicator.Report {
	if r.bars == nil || len(state.Positions) == 0 {
		return nil
	}
	positions := append([]broker.Position(nil), state.Positions...)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].MarketValue.Abs().GreaterThan(positions[j].MarketValue.Abs())
	})
	if len(positions) > maxTechnicals {
		positions = positions[:maxTechnicals]
	}
	var out []indicator.Report
	for _, p := range positions {
		bctx, cancel := context.WithTimeout(ctx, barsTimeout)
		bars, err := r.bars.DailyBars(bctx, p.Symbol, barsLookback)
		cancel()
		if err != nil {
			logger.Warnf("daily bars %s unavailable: %v", p.Symbol, err)
			continue
		}
		rep, err := indicator.Compute(p.Symbol, bars, indicator.DefaultSettings)
		if err != nil {
			logger.Debugf("technicals %s skipped: %v", p.Symbol, err)
			continue
		}
		out = append(out, rep)
	}
	return out
}

func (r *SessionRunner) executeOne(ctx context.Context, ref executor.SessionRef, act trade.Action, state broker.AccountState) trade.ExecutionResult {
	qctx, cancel := context.WithTimeout(ctx, accountTimeout)
	quote, err := r.broker.Quote(qctx, act.Symbol)
	cancel()
	if err != nil {
		return r.executor.Reject(ctx, ref, act, fmt.Sprintf("quote unavailable: %v", err))
	}
	dec, err := r.validator.Validate(ctx, act, state, quote)
	if err != nil {
		return r.executor.Reject(ctx, ref, act, err.Error())
	}
	return r.executor.Execute(ctx, ref, dec)
}

func (r *SessionRunner) accountState(ctx context.Context) (broker.AccountState, error) {
	cctx, cancel := context.WithTimeout(ctx, accountTimeout)
	defer cancel()
	state, err := r.broker.AccountState(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return state, fmt.Errorf("%w: %v", trade.ErrExternalTimeout, err)
	}
	return state, err
}

func joinNotes(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}
