package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestExtractJSONFromFence(t *testing.T) {
	raw := "Analysis first.\n```bash\nls -la\n```\nThen:\n```json\n{\"actions\":[{\"side\":\"buy\",\"symbol\":\"NVDA\"}]}\n```\nDone."
	got, offset, ok := ExtractJSONWithOffset(raw)
	require.True(t, ok)
	assert.Equal(t, `{"actions":[{"side":"buy","symbol":"NVDA"}]}`, got)
	assert.Equal(t, '{', rune(raw[offset]))
}

func TestExtractJSONPicksFirstStructure(t *testing.T) {
	got, ok := ExtractJSON(`Top picks ["NVDA","AAPL"] then {"a":1}`)
	require.True(t, ok)
	assert.Equal(t, `["NVDA","AAPL"]`, got)

	got, ok = ExtractJSON(`prefix {"a":"}"} [1]`)
	require.True(t, ok)
	assert.Equal(t, `{"a":"}"}`, got)

	_, ok = ExtractJSON("no json here")
	assert.False(t, ok)
}

func TestRepairTruncatedBlock(t *testing.T) {
	got, ok := ExtractJSON(`{"actions":[{"side":"buy","symbol":"AAPL",}`)
	require.True(t, ok)
	fixed, err := Repair(got)
	require.NoError(t, err)
	assert.True(t, gjson.Valid(fixed))
	assert.Equal(t, "AAPL", gjson.Get(fixed, "actions.0.symbol").String())
}

func TestPrettyAndCompact(t *testing.T) {
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Equal(t, `{"a":1}`, Compact("{ \"a\" : 1 }"))
	assert.Contains(t, Pretty(`{"a":1}`), "\n")
}
