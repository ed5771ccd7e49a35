package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"goaltrader/internal/analysis/visual"
	"goaltrader/internal/engine"
	"goaltrader/internal/goal"
	"goaltrader/internal/intervention"
	"goaltrader/internal/store/execlog"
	"goaltrader/internal/tracker"

	"github.com/gin-gonic/gin"
)

// Router 暴露目标管理、插队队列与执行日志查询接口。
type Router struct {
	Tracker     *tracker.Tracker
	Loop        *engine.Loop
	Coordinator *intervention.Coordinator
	ExecLog     *execlog.Store
}

// Register 将路由挂载到 /api 分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	goals := group.Group("/goals")
	goals.POST("", r.handleCreateGoal)
	goals.GET("", r.handleListGoals)
	goals.GET("/summary", r.handleSummary)
	goals.GET("/leaderboard", r.handleLeaderboard)
	goals.GET("/:id", r.handleGoalDetail)
	goals.GET("/:id/chart", r.handleGoalChart)
	goals.POST("/:id/stop", r.handleStop)
	goals.POST("/:id/pause", r.handlePause)
	goals.POST("/:id/resume", r.handleResume)
	goals.POST("/:id/run", r.handleRun)

	queue := group.Group("/queue")
	queue.GET("", r.handleQueueList)
	queue.POST("", r.handleQueueSubmit)
	queue.POST("/drain", r.handleQueueDrain)
	queue.DELETE("/:id", r.handleQueueCancel)

	group.GET("/executions", r.handleExecutions)
	group.GET("/engine/states", r.handleEngineStates)
}

type createGoalRequest struct {
	Kind                string  `json:"kind" binding:"required"`
	TargetValue         float64 `json:"target_value"`
	DailyTradingEnabled *bool   `json:"daily_trading_enabled"`
	Description         string  `json:"description"`
	Deadline            string  `json:"deadline"` // RFC3339 或 YYYY-MM-DD
}

func (r *Router) handleCreateGoal(c *gin.Context) {
	var req createGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	treq := tracker.Request{
		Kind:                goal.Kind(req.Kind),
		TargetValue:         req.TargetValue,
		DailyTradingEnabled: true,
		Description:         req.Description,
	}
	if req.DailyTradingEnabled != nil {
		treq.DailyTradingEnabled = *req.DailyTradingEnabled
	}
	if raw := strings.TrimSpace(req.Deadline); raw != "" {
		deadline, err := ParseDeadline(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		treq.Deadline = &deadline
	}
	g, err := r.Tracker.CreateGoal(c.Request.Context(), treq)
	if err != nil {
		writeError(c, err)
		return
	}
	if r.Loop != nil {
		r.Loop.Watch(g.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"goal": g})
}

// ParseDeadline 接受 RFC3339 或日期；仅日期时取当日 23:59:59 UTC。
func ParseDeadline(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("deadline must be RFC3339 or YYYY-MM-DD")
	}
	return d.Add(24*time.Hour - time.Second), nil
}

func (r *Router) handleListGoals(c *gin.Context) {
	var statuses []goal.Status
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		st, err := goal.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		statuses = append(statuses, st)
	}
	goals, err := r.Tracker.ListGoals(c.Request.Context(), statuses...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": goals, "count": len(goals)})
}

func (r *Router) handleSummary(c *gin.Context) {
	sum, err := r.Tracker.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (r *Router) handleLeaderboard(c *gin.Context) {
	board, err := r.Tracker.Leaderboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}

func (r *Router) handleGoalDetail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("history", "60"))
	rep, err := r.Tracker.GetProgress(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (r *Router) handleGoalChart(c *gin.Context) {
	rep, err := r.Tracker.GetProgress(c.Request.Context(), c.Param("id"), 500)
	if err != nil {
		writeError(c, err)
		return
	}
	html, err := visual.RenderProgressHTML(visual.ProgressInput{Goal: rep.Goal, History: rep.History})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleStop(c *gin.Context) {
	g, err := r.Tracker.StopGoal(c.Request.Context(), c.Param("id"))
	r.afterStatusChange(c, g, err)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (r *Router) handlePause(c *gin.Context) {
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "paused by user"
	}
	g, err := r.Tracker.PauseGoal(c.Request.Context(), c.Param("id"), req.Reason)
	r.afterStatusChange(c, g, err)
}

func (r *Router) handleResume(c *gin.Context) {
	g, err := r.Tracker.ResumeGoal(c.Request.Context(), c.Param("id"))
	r.afterStatusChange(c, g, err)
}

func (r *Router) afterStatusChange(c *gin.Context, g goal.Goal, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	if r.Loop != nil {
		r.Loop.Watch(g.ID)
	}
	c.JSON(http.StatusOK, gin.H{"goal": g})
}

// handleRun 通过插队协调器执行，保证与其他人工操作串行。
func (r *Router) handleRun(c *gin.Context) {
	id := c.Param("id")
	if _, err := r.Tracker.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	r.submit(c, intervention.Task{Description: "run " + id, GoalID: id, Priority: intervention.PriorityHigh})
}

type queueRequest struct {
	Description string `json:"description" binding:"required"`
	GoalID      string `json:"goal_id"`
	Priority    string `json:"priority"`
}

func (r *Router) handleQueueSubmit(c *gin.Context) {
	var req queueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prio, err := intervention.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.submit(c, intervention.Task{Description: req.Description, GoalID: req.GoalID, Priority: prio})
}

func (r *Router) submit(c *gin.Context, t intervention.Task) {
	task, disp, err := r.Coordinator.Submit(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task": task, "disposition": disp, "pending": r.Coordinator.Queue().Len()})
}

func (r *Router) handleQueueList(c *gin.Context) {
	tasks := r.Coordinator.Queue().Peek()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "in_flight": r.Coordinator.InFlight()})
}

func (r *Router) handleQueueDrain(c *gin.Context) {
	pending := r.Coordinator.Queue().Len()
	started := r.Coordinator.Kick(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"started": started, "pending": pending, "in_flight": r.Coordinator.InFlight()})
}

func (r *Router) handleQueueCancel(c *gin.Context) {
	if !r.Coordinator.Queue().Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) handleExecutions(c *gin.Context) {
	if r.ExecLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution log disabled"})
		return
	}
	q := execlog.Query{GoalID: c.Query("goal_id"), Symbol: c.Query("symbol")}
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if raw := c.Query("session_ts"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_ts must be unix seconds"})
			return
		}
		q.SessionTS = ts
	}
	list, err := r.ExecLog.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}

func (r *Router) handleEngineStates(c *gin.Context) {
	if r.Loop == nil {
		c.JSON(http.StatusOK, gin.H{"workers": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": r.Loop.States()})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, goal.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, goal.ErrInvalidGoal), errors.Is(err, intervention.ErrEmptyDescription):
		status = http.StatusBadRequest
	case errors.Is(err, goal.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, intervention.ErrQueueFull):
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
