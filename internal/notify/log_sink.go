package notify

import (
	"context"

	"goaltrader/internal/logger"
)

// LogSink 把事件写入主日志，始终启用。
type LogSink struct{}

func (LogSink) Notify(_ context.Context, ev Event) {
	log := logger.With("goal_id", ev.GoalID, "event", string(ev.Kind))
	if ev.Kind == KindSession && ev.Session != nil && ev.Session.Error != "" {
		log.Warnf("%s error=%s", ev.Summary(), ev.Session.Error)
		return
	}
	log.Infof("%s", ev.Summary())
}
