package indicator

import (
	"errors"
	"testing"
	"time"

	"goaltrader/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rising(n int, start, step float64) []market.Bar {
	bars := make([]market.Bar, n)
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		c := start + step*float64(i)
		bars[i] = market.Bar{Time: day.AddDate(0, 0, i), Open: c - step/2, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return bars
}

func TestCompute_Uptrend(t *testing.T) {
	rep, err := Compute("AAPL", rising(80, 100, 1), DefaultSettings)
	require.NoError(t, err)
	assert.Equal(t, 80, rep.Count)
	assert.Equal(t, 179.0, rep.Close)
	assert.Equal(t, "above", rep.EMAFast.State)
	assert.Equal(t, "above", rep.EMASlow.State)
	assert.Equal(t, "overbought", rep.RSI.State)
	assert.Equal(t, "positive", rep.ROC.State)
	assert.Greater(t, rep.ATRPct.Latest, 0.0)
	assert.Contains(t, rep.Line(), "AAPL close=179.00")
}

func TestCompute_NotEnoughBars(t *testing.T) {
	_, err := Compute("MSFT", rising(20, 100, 1), Settings{})
	assert.True(t, errors.Is(err, ErrNotEnoughBars))
}
