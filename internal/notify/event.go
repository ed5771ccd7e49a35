package notify

import (
	"context"
	"fmt"
	"time"

	"goaltrader/internal/goal"
)

type Kind string

const (
	KindMilestone Kind = "milestone"
	KindCompleted Kind = "completed"
	KindSession   Kind = "session"
	KindStatus    Kind = "status"
)

// Event 是目标生命周期中值得推送的事件。
type Event struct {
	Kind        Kind
	GoalID      string
	Description string
	Threshold   int
	Progress    float64
	From        goal.Status
	To          goal.Status
	Session     *goal.Session
	Detail      string
	At          time.Time
}

// Sink 接收事件；实现不得阻塞调用方过久，发送失败只记录日志。
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Fanout 依次投递到多个 sink。
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, ev Event) {
	for _, s := range f {
		if s != nil {
			s.Notify(ctx, ev)
		}
	}
}

func (ev Event) Summary() string {
	switch ev.Kind {
	case KindMilestone:
		return fmt.Sprintf("goal %s reached %d%% (progress %.2f%%)", ev.GoalID, ev.Threshold, ev.Progress)
	case KindCompleted:
		return fmt.Sprintf("goal %s completed (progress %.2f%%)", ev.GoalID, ev.Progress)
	case KindStatus:
		msg := fmt.Sprintf("goal %s %s -> %s", ev.GoalID, ev.From, ev.To)
		if ev.Detail != "" {
			msg += ": " + ev.Detail
		}
		return msg
	case KindSession:
		if ev.Session == nil {
			return fmt.Sprintf("goal %s session finished", ev.GoalID)
		}
		s := ev.Session
		return fmt.Sprintf("goal %s session %s parsed=%d executed=%d rejected=%d failed=%d progress %.2f%% -> %.2f%%",
			ev.GoalID, s.Status, s.ActionsParsed, s.ActionsExecuted, s.ActionsRejected, s.ActionsFailed,
			s.ProgressBefore, s.ProgressAfter)
	}
	return fmt.Sprintf("goal %s %s", ev.GoalID, ev.Kind)
}
