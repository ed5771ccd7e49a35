package market

import (
	"context"
	"time"
)

// Bar 是一根日线。
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BarSource 提供最近 limit 根日线，按时间升序。
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}
