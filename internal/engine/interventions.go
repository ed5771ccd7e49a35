package engine

import (
	"context"
	"fmt"
	"strings"

	"goaltrader/internal/intervention"
	"goaltrader/internal/logger"
)

// Interventions 把插队任务翻译成对目标的操作：
//
//	run|pause|resume|stop [goal_id]
//	其余文本作为备注，交给目标下一次会话的分析上下文
type Interventions struct {
	loop  *Loop
	notes *Notes
}

func NewInterventions(loop *Loop, notes *Notes) *Interventions {
	return &Interventions{loop: loop, notes: notes}
}

// Handle 满足 intervention.Handler。
func (iv *Interventions) Handle(ctx context.Context, t intervention.Task) error {
	fields := strings.Fields(t.Description)
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToLower(fields[0])
	goalID := t.GoalID
	if goalID == "" && len(fields) > 1 {
		goalID = fields[1]
	}
	tr := iv.loop.tracker
	log := logger.With("task", t.ID, "goal_id", goalID)
	switch cmd {
	case "run", "pause", "resume", "stop":
		if goalID == "" {
			return fmt.Errorf("%s needs a goal id", cmd)
		}
	}
	switch cmd {
	case "run":
		sess, err := iv.loop.RunNow(ctx, goalID)
		if err != nil {
			return err
		}
		log.Infof("intervention run finished status=%s", sess.Status)
		return nil
	case "pause":
		reason := "intervention"
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		if _, err := tr.PauseGoal(ctx, goalID, reason); err != nil {
			return err
		}
	case "resume":
		if _, err := tr.ResumeGoal(ctx, goalID); err != nil {
			return err
		}
	case "stop":
		if _, err := tr.StopGoal(ctx, goalID); err != nil {
			return err
		}
	default:
		targets := []string{t.GoalID}
		if t.GoalID == "" {
			targets = iv.loop.Watched()
		}
		for _, id := range targets {
			iv.notes.Add(id, t.Description)
		}
		log.Infof("intervention note stored for %d goal(s)", len(targets))
		return nil
	}
	iv.loop.Watch(goalID)
	log.Infof("intervention %s applied", cmd)
	return nil
}
