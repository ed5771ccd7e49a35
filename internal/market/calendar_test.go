package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestStaticCalendarStatus(t *testing.T) {
	cal, err := NewStaticCalendar("America/New_York", []string{"2026-06-03"})
	require.NoError(t, err)
	ny := newYork(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		at       time.Time
		open     bool
		label    string
		nextOpen time.Time
	}{
		{"pre-market", time.Date(2026, 6, 1, 9, 0, 0, 0, ny), false, "CLOSED - Pre-market", time.Date(2026, 6, 1, 9, 30, 0, 0, ny)},
		{"open", time.Date(2026, 6, 1, 9, 30, 0, 0, ny), true, "OPEN", time.Time{}},
		{"last minute", time.Date(2026, 6, 1, 15, 59, 0, 0, ny), true, "OPEN", time.Time{}},
		{"after-hours", time.Date(2026, 6, 1, 16, 0, 0, 0, ny), false, "CLOSED - After-hours", time.Date(2026, 6, 2, 9, 30, 0, 0, ny)},
		{"extra holiday skipped", time.Date(2026, 6, 2, 17, 0, 0, 0, ny), false, "CLOSED - After-hours", time.Date(2026, 6, 4, 9, 30, 0, 0, ny)},
		{"configured holiday", time.Date(2026, 6, 3, 11, 0, 0, 0, ny), false, "CLOSED - Holiday", time.Date(2026, 6, 4, 9, 30, 0, 0, ny)},
		{"weekend", time.Date(2026, 6, 6, 11, 0, 0, 0, ny), false, "CLOSED - Weekend", time.Date(2026, 6, 8, 9, 30, 0, 0, ny)},
		{"juneteenth", time.Date(2026, 6, 19, 11, 0, 0, 0, ny), false, "CLOSED - Holiday", time.Date(2026, 6, 22, 9, 30, 0, 0, ny)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := cal.Status(ctx, tc.at)
			require.NoError(t, err)
			assert.Equal(t, tc.open, st.IsOpen)
			assert.Equal(t, tc.label, st.Label)
			if !tc.nextOpen.IsZero() {
				assert.True(t, tc.nextOpen.Equal(st.NextOpen), "next open %s", st.NextOpen)
			}
		})
	}
}

func TestStaticCalendarHandlesUTCInput(t *testing.T) {
	cal, err := NewStaticCalendar("", nil)
	require.NoError(t, err)
	// 14:00 UTC = 10:00 EDT
	open, err := IsOpen(context.Background(), cal, time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, open)
}

func TestNewStaticCalendarRejectsBadHoliday(t *testing.T) {
	_, err := NewStaticCalendar("America/New_York", []string{"June 3"})
	assert.Error(t, err)
}

func TestTradingDate(t *testing.T) {
	ny := newYork(t)
	// 02:00 UTC 仍是纽约前一天
	assert.Equal(t, "2026-06-01", TradingDate(time.Date(2026, 6, 2, 2, 0, 0, 0, time.UTC), ny))
}

func TestHoursMessage(t *testing.T) {
	now := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	msg := HoursMessage(Status{IsOpen: true, NextClose: now.Add(2*time.Hour + 30*time.Minute)}, now)
	assert.Equal(t, "MARKET OPEN - closes in 2h30m0s", msg)
	msg = HoursMessage(Status{Label: "CLOSED - Weekend", NextOpen: now.Add(49 * time.Hour)}, now)
	assert.Equal(t, "CLOSED - Weekend - opens in 2 days", msg)
	assert.Equal(t, "OPEN", HoursMessage(Status{IsOpen: true, Label: "OPEN"}, now))
}
