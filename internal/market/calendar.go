package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status 描述某一时刻的交易时段状态。
type Status struct {
	IsOpen     bool
	Label      string // OPEN, "CLOSED - Weekend", "CLOSED - Holiday", "CLOSED - Pre-market", "CLOSED - After-hours"
	TradingDay bool
	NextOpen   time.Time
	NextClose  time.Time
}

// Clock 判断市场是否开盘；实现可以是内置日历，也可以是券商的 clock 接口。
type Clock interface {
	Status(ctx context.Context, at time.Time) (Status, error)
}

// IsOpen 是 Clock.Status 的便捷封装。
func IsOpen(ctx context.Context, c Clock, at time.Time) (bool, error) {
	st, err := c.Status(ctx, at)
	if err != nil {
		return false, err
	}
	return st.IsOpen, nil
}

const dateLayout = "2006-01-02"

// NYSE 全天休市日；提前收盘日按正常交易日处理。
var builtinHolidays = []string{
	"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
	"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
	"2027-01-01", "2027-01-18", "2027-02-15", "2027-03-26", "2027-05-31",
	"2027-06-18", "2027-07-05", "2027-09-06", "2027-11-25", "2027-12-24",
}

// StaticCalendar 按固定时段 + 节假日表判断美股常规交易时间。
type StaticCalendar struct {
	loc      *time.Location
	open     time.Duration // 自当日 00:00 起
	close    time.Duration
	holidays map[string]struct{}
}

// NewStaticCalendar 构造 09:30-16:00 的日历；extra 为追加的 YYYY-MM-DD 休市日。
func NewStaticCalendar(timezone string, extra []string) (*StaticCalendar, error) {
	if strings.TrimSpace(timezone) == "" {
		timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", timezone, err)
	}
	c := &StaticCalendar{
		loc:      loc,
		open:     9*time.Hour + 30*time.Minute,
		close:    16 * time.Hour,
		holidays: make(map[string]struct{}, len(builtinHolidays)+len(extra)),
	}
	for _, day := range append(append([]string(nil), builtinHolidays...), extra...) {
		day = strings.TrimSpace(day)
		if _, err := time.Parse(dateLayout, day); err != nil {
			return nil, fmt.Errorf("invalid holiday %q", day)
		}
		c.holidays[day] = struct{}{}
	}
	return c, nil
}

func (c *StaticCalendar) Location() *time.Location { return c.loc }

// IsTradingDay 排除周末与节假日。
func (c *StaticCalendar) IsTradingDay(at time.Time) bool {
	local := at.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[local.Format(dateLayout)]
	return !holiday
}

func (c *StaticCalendar) Status(_ context.Context, at time.Time) (Status, error) {
	local := at.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	if !c.IsTradingDay(local) {
		label := "CLOSED - Holiday"
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			label = "CLOSED - Weekend"
		}
		return Status{Label: label, NextOpen: c.nextOpenAfter(midnight)}, nil
	}
	openAt := midnight.Add(c.open)
	closeAt := midnight.Add(c.close)
	switch {
	case local.Before(openAt):
		return Status{Label: "CLOSED - Pre-market", TradingDay: true, NextOpen: openAt}, nil
	case local.Before(closeAt):
		return Status{IsOpen: true, Label: "OPEN", TradingDay: true, NextClose: closeAt}, nil
	default:
		return Status{Label: "CLOSED - After-hours", TradingDay: true, NextOpen: c.nextOpenAfter(midnight)}, nil
	}
}

// nextOpenAfter 返回 day 之后第一个交易日的开盘时间。
func (c *StaticCalendar) nextOpenAfter(day time.Time) time.Time {
	next := day.AddDate(0, 0, 1)
	for i := 0; i < 30 && !c.IsTradingDay(next); i++ {
		next = next.AddDate(0, 0, 1)
	}
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, c.loc).Add(c.open)
}

// TradingDate 返回 at 在交易所时区下的日期，用于"每日一次"判断。
func TradingDate(at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return at.In(loc).Format(dateLayout)
}

// HoursMessage 渲染一行开/收盘提示。
func HoursMessage(st Status, now time.Time) string {
	if st.IsOpen {
		if st.NextClose.IsZero() {
			return st.Label
		}
		left := st.NextClose.Sub(now).Truncate(time.Minute)
		return fmt.Sprintf("MARKET OPEN - closes in %s", left)
	}
	if st.NextOpen.IsZero() {
		return st.Label
	}
	left := st.NextOpen.Sub(now)
	if left >= 24*time.Hour {
		return fmt.Sprintf("%s - opens in %d days", st.Label, int(left.Hours()/24))
	}
	return fmt.Sprintf("%s - opens in %s", st.Label, left.Truncate(time.Minute))
}
