package scheduler

import (
	"context"
	"time"

	"goaltrader/internal/logger"
)

// AlignedTicker 把等待对齐到 Interval 的整数倍（再加 Offset），
// 让多个目标的检查点落在可预测的时刻，而不是随进程启动时间漂移。
type AlignedTicker struct {
	Interval time.Duration
	Offset   time.Duration

	nowFn func() time.Time
}

func NewAlignedTicker(interval, offset time.Duration) *AlignedTicker {
	if offset < 0 {
		logger.Warnf("AlignedTicker: negative offset=%s, clamp to 0", offset)
		offset = 0
	}
	if interval > 0 && offset >= interval {
		offset = offset % interval
	}
	return &AlignedTicker{Interval: interval, Offset: offset, nowFn: time.Now}
}

// WithClock 替换时间源，测试用。
func (t *AlignedTicker) WithClock(now func() time.Time) *AlignedTicker {
	if now != nil {
		t.nowFn = now
	}
	return t
}

func (t *AlignedTicker) Now() time.Time {
	if t == nil || t.nowFn == nil {
		return time.Now()
	}
	return t.nowFn()
}

// NextTimes 返回下一个对齐时刻以及距今的等待时长。
func (t *AlignedTicker) NextTimes(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	slot := now.Truncate(t.Interval)
	wakeAt = slot.Add(t.Offset)
	if !wakeAt.After(now) {
		wakeAt = slot.Add(t.Interval).Add(t.Offset)
	}
	return wakeAt, wakeAt.Sub(now)
}

// Wait 阻塞到下一个对齐时刻；ctx 取消时返回 ctx.Err()。
func (t *AlignedTicker) Wait(ctx context.Context) error {
	if t.Interval <= 0 {
		return context.Canceled
	}
	_, wait := t.NextTimes(t.Now())
	return Sleep(ctx, wait)
}

// WaitUntil 阻塞到 at；at 已过去时立即返回。
func (t *AlignedTicker) WaitUntil(ctx context.Context, at time.Time) error {
	return Sleep(ctx, at.Sub(t.Now()))
}

// Sleep 是可被 ctx 打断的 time.Sleep。
func Sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
