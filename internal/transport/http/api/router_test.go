package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"goaltrader/internal/broker"
	"goaltrader/internal/broker/paper"
	"goaltrader/internal/goal"
	"goaltrader/internal/intervention"
	"goaltrader/internal/store/execlog"
	"goaltrader/internal/store/gormstore"
	"goaltrader/internal/tracker"
	"goaltrader/internal/trade"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fixture struct {
	engine  *gin.Engine
	tracker *tracker.Tracker
	logs    *execlog.Store
	coord   *intervention.Coordinator

	mu      sync.Mutex
	handled []intervention.Task
	release chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := gormstore.NewGormStore(filepath.Join(dir, "goals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	logs, err := execlog.NewStore(filepath.Join(dir, "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })

	pb := paper.New(100000)
	pb.SetQuote(broker.Quote{Symbol: "AAPL", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(100)})

	f := &fixture{tracker: tracker.New(st, pb), logs: logs, release: make(chan struct{})}
	close(f.release)
	f.coord = intervention.NewCoordinator(intervention.NewQueue(2), func(ctx context.Context, task intervention.Task) error {
		<-f.release
		f.mu.Lock()
		f.handled = append(f.handled, task)
		f.mu.Unlock()
		return nil
	})
	t.Cleanup(f.coord.Wait)
	f.engine = NewEngine(&Router{Tracker: f.tracker, Coordinator: f.coord, ExecLog: logs})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createGoal(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/goals", map[string]any{"kind": "portfolio_gain_pct", "target_value": 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := gjson.Get(rec.Body.String(), "goal.id").String()
	require.NotEmpty(t, id)
	return id
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoals_CreateListAndDetail(t *testing.T) {
	f := newFixture(t)
	id := f.createGoal(t)

	rec := f.do(t, http.MethodGet, "/api/goals?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "count").Int())

	rec = f.do(t, http.MethodGet, "/api/goals/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, gjson.Get(rec.Body.String(), "goal.id").String())

	rec = f.do(t, http.MethodGet, "/api/goals/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "total").Int())
}

func TestGoals_LeaderboardAndSummaryPerformance(t *testing.T) {
	f := newFixture(t)
	id := f.createGoal(t)
	now := time.Now().UTC()
	require.NoError(t, f.tracker.RecordSession(context.Background(), goal.Session{
		GoalID: id, StartedAt: now.Add(-time.Hour), EndedAt: now,
		Status: goal.SessionCompleted, ActionsExecuted: 2, ProfitLoss: 125,
	}))

	rec := f.do(t, http.MethodGet, "/api/goals/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "leaderboard.#").Int())
	assert.Equal(t, id, gjson.Get(body, "leaderboard.0.goal_id").String())
	assert.Equal(t, 125.0, gjson.Get(body, "leaderboard.0.total_profit").Float())

	rec = f.do(t, http.MethodGet, "/api/goals/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "performance.total_trades").Int())
	assert.Equal(t, 1.0, gjson.Get(body, "performance.win_rate").Float())
	assert.Equal(t, id, gjson.Get(body, "leaderboard.0.goal_id").String())

	rec = f.do(t, http.MethodGet, "/api/goals/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "recommendations.#").Int() > 0)
}

func TestGoals_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/goals", map[string]any{"kind": "moonshot", "target_value": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/goals", map[string]any{"kind": "custom", "target_value": 10, "deadline": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/goals/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/goals?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGoals_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	id := f.createGoal(t)

	rec := f.do(t, http.MethodPost, "/api/goals/"+id+"/pause", map[string]string{"reason": "earnings week"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(goal.StatusPaused), gjson.Get(rec.Body.String(), "goal.status").String())

	rec = f.do(t, http.MethodPost, "/api/goals/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/goals/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(goal.StatusStopped), gjson.Get(rec.Body.String(), "goal.status").String())

	rec = f.do(t, http.MethodPost, "/api/goals/"+id+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGoals_RunGoesThroughQueue(t *testing.T) {
	f := newFixture(t)
	id := f.createGoal(t)

	rec := f.do(t, http.MethodPost, "/api/goals/"+id+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.coord.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.handled, 1)
	assert.Equal(t, "run "+id, f.handled[0].Description)
	assert.Equal(t, intervention.PriorityHigh, f.handled[0].Priority)
}

func TestQueue_SubmitListCancelAndLimit(t *testing.T) {
	f := newFixture(t)
	f.release = make(chan struct{})

	rec := f.do(t, http.MethodPost, "/api/queue", map[string]string{"description": "first"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, string(intervention.Started), gjson.Get(rec.Body.String(), "disposition").String())

	rec = f.do(t, http.MethodPost, "/api/queue", map[string]string{"description": "second", "priority": "low"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	second := gjson.Get(rec.Body.String(), "task.id").String()
	f.do(t, http.MethodPost, "/api/queue", map[string]string{"description": "third", "priority": "high"})

	rec = f.do(t, http.MethodPost, "/api/queue", map[string]string{"description": "overflow"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/queue", map[string]string{"description": "x", "priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := gjson.Get(rec.Body.String(), "tasks.#.description").Array()
	require.Len(t, tasks, 2)
	assert.Equal(t, "third", tasks[0].String())
	assert.True(t, gjson.Get(rec.Body.String(), "in_flight").Bool())

	rec = f.do(t, http.MethodDelete, "/api/queue/"+second, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/queue/"+second, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	close(f.release)
	f.coord.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.handled, 2)
	assert.Equal(t, "first", f.handled[0].Description)
	assert.Equal(t, "third", f.handled[1].Description)
}

func TestExecutions_Filter(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	qty := 5.0
	for _, sym := range []string{"AAPL", "MSFT"} {
		res := trade.Rejected(trade.Action{Symbol: sym, Side: trade.SideBuy, Quantity: &qty}, "test", at)
		_, err := f.logs.Append(context.Background(), execlog.FromResult("g1", "s1", at, res))
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/executions?goal_id=g1&symbol=MSFT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "count").Int())

	rec = f.do(t, http.MethodGet, "/api/executions?session_ts=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseDeadline(t *testing.T) {
	d, err := ParseDeadline("2026-12-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), d)

	_, err = ParseDeadline("soon")
	assert.Error(t, err)
}
