package recommend

import (
	"testing"

	"goaltrader/internal/trade"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRebalanceInstruction(t *testing.T) {
	p := MustParser()
	res := p.Parse("Reduce AAPL allocation from 40.0% to 0.0%")
	require.Len(t, res.Actions, 1)
	act := res.Actions[0]
	assert.Equal(t, trade.SideSell, act.Side)
	assert.Equal(t, "AAPL", act.Symbol)
	require.NotNil(t, act.TargetAllocationPct)
	assert.Equal(t, 0.0, *act.TargetAllocationPct)
	assert.Nil(t, act.Quantity)

	res = p.Parse("increase MSFT allocation from 5% to 12.5%")
	require.Len(t, res.Actions, 1)
	assert.Equal(t, trade.SideBuy, res.Actions[0].Side)
	assert.Equal(t, 12.5, *res.Actions[0].TargetAllocationPct)
}

func TestParseRebalanceUnchangedIsRejected(t *testing.T) {
	res := MustParser().Parse("Increase TSLA allocation from 10% to 10%")
	assert.Empty(t, res.Actions)
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0].Reason, "unchanged")
}

func TestParseDirectInstruction(t *testing.T) {
	res := MustParser().Parse("BUY NVDA 100 shares for AI exposure")
	require.Len(t, res.Actions, 1)
	act := res.Actions[0]
	assert.Equal(t, trade.SideBuy, act.Side)
	assert.Equal(t, "NVDA", act.Symbol)
	require.NotNil(t, act.Quantity)
	assert.Equal(t, 100.0, *act.Quantity)
	assert.Nil(t, act.TargetAllocationPct)
	assert.Equal(t, "AI exposure", act.Reason)
	assert.Equal(t, trade.ConfidenceMedium, act.Confidence)
}

func TestParseDirectWithoutQuantityLeavesSizingToCaller(t *testing.T) {
	res := MustParser().Parse("sell AMD")
	require.Len(t, res.Actions, 1)
	assert.Nil(t, res.Actions[0].Quantity)
	assert.Nil(t, res.Actions[0].TargetAllocationPct)
}

func TestParseSupplementedPhrasings(t *testing.T) {
	cases := []struct {
		line string
		side trade.Side
		sym  string
		qty  float64
	}{
		{"BUY 100 shares of AAPL at $150", trade.SideBuy, "AAPL", 100},
		{"TSLA: SELL 20 shares", trade.SideSell, "TSLA", 20},
		{"We recommend buying 50 META", trade.SideBuy, "META", 50},
		{"I suggest selling 10 shares of INTC", trade.SideSell, "INTC", 10},
		{"Action: BUY, Symbol: GOOG, Quantity: 15", trade.SideBuy, "GOOG", 15},
		{"SHORT SPY 30 shares into resistance", trade.SideSellShort, "SPY", 30},
		{"Cover QQQ 5 shares", trade.SideBuyToCover, "QQQ", 5},
		{"SELL SHORT TSLA 100 shares", trade.SideSellShort, "TSLA", 100},
		{"BUY TO COVER TSLA 50 shares", trade.SideBuyToCover, "TSLA", 50},
		{"sell  short IWM 8 shares on the bounce", trade.SideSellShort, "IWM", 8},
	}
	p := MustParser()
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			res := p.Parse(tc.line)
			require.Len(t, res.Actions, 1)
			assert.Equal(t, tc.side, res.Actions[0].Side)
			assert.Equal(t, tc.sym, res.Actions[0].Symbol)
			require.NotNil(t, res.Actions[0].Quantity)
			assert.Equal(t, tc.qty, *res.Actions[0].Quantity)
		})
	}
}

func TestParseSeveralInstructionsOnOneLine(t *testing.T) {
	res := MustParser().Parse("AAPL: SELL 50 shares, MSFT: BUY 20 shares")
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "AAPL", res.Actions[0].Symbol)
	assert.Equal(t, trade.SideSell, res.Actions[0].Side)
	assert.Equal(t, 50.0, *res.Actions[0].Quantity)
	assert.Equal(t, "MSFT", res.Actions[1].Symbol)
	assert.Equal(t, trade.SideBuy, res.Actions[1].Side)
	assert.Equal(t, 20.0, *res.Actions[1].Quantity)

	res = MustParser().Parse("BUY AAPL 10 shares stop loss 180 and SELL SHORT TSLA 5 shares stop loss 260")
	require.Len(t, res.Actions, 2)
	assert.Equal(t, 180.0, *res.Actions[0].StopLoss)
	assert.Equal(t, trade.SideSellShort, res.Actions[1].Side)
	assert.Equal(t, 260.0, *res.Actions[1].StopLoss)
}

func TestParseReadsRiskFieldsFromLine(t *testing.T) {
	res := MustParser().Parse("- **BUY AAPL 10 shares** breakout, stop loss $180.5, take profit 210, high confidence")
	require.Len(t, res.Actions, 1)
	act := res.Actions[0]
	require.NotNil(t, act.StopLoss)
	require.NotNil(t, act.TakeProfit)
	assert.Equal(t, 180.5, *act.StopLoss)
	assert.Equal(t, 210.0, *act.TakeProfit)
	assert.Equal(t, trade.ConfidenceHigh, act.Confidence)
}

func TestParseDropsUnrecognizedLinesAndDuplicates(t *testing.T) {
	text := `Market looks choppy today.
1. BUY NVDA 10 shares
2. buy the dip carefully
3. BUY NVDA 20 shares
4. SELL AAPL`
	res := MustParser().Parse(text)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "NVDA", res.Actions[0].Symbol)
	assert.Equal(t, 10.0, *res.Actions[0].Quantity)
	assert.Equal(t, "AAPL", res.Actions[1].Symbol)
	assert.Empty(t, res.Rejections)
}

func TestParseIsDeterministic(t *testing.T) {
	text := "SELL AAPL 5 shares\nincrease MSFT allocation from 1% to 3%\nBUY NVDA"
	p := MustParser()
	first := p.Parse(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Parse(text))
	}
}

func TestParseEmptyYield(t *testing.T) {
	res := MustParser().Parse("Hold everything, no trades today.")
	assert.True(t, res.Empty())
	assert.True(t, MustParser().Parse("").Empty())
}

func TestParseStructuredBlockIsAuthoritative(t *testing.T) {
	text := "Plan below. BUY TSLA 1 shares is just commentary.\n```json\n" +
		`{"actions":[
			{"action":"buy","ticker":"nvda","qty":"25","stop_loss":110,"confidence":"HIGH","reason":"earnings"},
			{"side":"short","symbol":"SPY","target_allocation_pct":5},
			{"side":"hold","symbol":"AAPL"},
			{"side":"buy","symbol":"MSFT","quantity":-3},
		]}` + "\n```"
	res := MustParser().Parse(text)
	assert.True(t, res.Structured)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, trade.SideBuy, res.Actions[0].Side)
	assert.Equal(t, "NVDA", res.Actions[0].Symbol)
	assert.Equal(t, 25.0, *res.Actions[0].Quantity)
	assert.Equal(t, 110.0, *res.Actions[0].StopLoss)
	assert.Equal(t, trade.ConfidenceHigh, res.Actions[0].Confidence)
	assert.Equal(t, "earnings", res.Actions[0].Reason)
	assert.Equal(t, trade.SideSellShort, res.Actions[1].Side)
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0].Source, "MSFT")
}

func TestParseStructuredWithoutActionsFallsBackToText(t *testing.T) {
	res := MustParser().Parse("{\"summary\":\"risk-off\"}\nSELL AAPL 5 shares")
	assert.False(t, res.Structured)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "AAPL", res.Actions[0].Symbol)
}
