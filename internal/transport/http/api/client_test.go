package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestClient_RoundTrip(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 0)
	ctx := context.Background()

	raw, err := c.CreateGoal(ctx, CreateGoalBody{Kind: "portfolio_value_abs", TargetValue: 120000, Description: "grow"})
	require.NoError(t, err)
	id := gjson.GetBytes(raw, "goal.id").String()
	require.NotEmpty(t, id)

	raw, err = c.ListGoals(ctx, "active", "paused")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.GetBytes(raw, "count").Int())

	raw, err = c.GoalAction(ctx, id, "pause", "vacation")
	require.NoError(t, err)
	assert.Equal(t, "paused", gjson.GetBytes(raw, "goal.status").String())

	_, err = c.GoalAction(ctx, id, "pause", "")
	require.NoError(t, err, "pausing twice is a no-op")

	raw, err = c.Submit(ctx, "watch semis", id, "low")
	require.NoError(t, err)
	assert.Equal(t, "low", gjson.GetBytes(raw, "task.priority").String())

	_, err = c.Progress(ctx, "nope", 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "not found")
}
