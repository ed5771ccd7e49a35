package goal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"goaltrader/internal/broker"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Milestones are notified at most once per goal.
var Milestones = []int{25, 50, 75, 90, 95, 100}

// Measure turns a broker account snapshot into goal metrics.
func Measure(state broker.AccountState) Metrics {
	equity, _ := state.Equity.Float64()
	pnl, _ := state.Equity.Sub(state.LastEquity).Float64()
	if state.LastEquity.IsZero() {
		pnl = 0
	}
	risk := 0.0
	if state.Equity.IsPositive() {
		risk, _ = state.GrossExposure().Div(state.Equity).Mul(hundred).Float64()
	}
	at := state.At
	if at.IsZero() {
		at = time.Now()
	}
	return Metrics{Value: equity, PnL: pnl, RiskPct: risk, CapturedAt: at.UTC()}
}

// ValidateTarget checks creation parameters against the captured baseline.
func ValidateTarget(kind Kind, target float64, baseline Metrics) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return fmt.Errorf("%w: target_value must be positive", ErrInvalidGoal)
	}
	switch kind {
	case KindPortfolioGainPct, KindPortfolioValueAbs, KindCustom:
		if baseline.Value <= 0 {
			return fmt.Errorf("%w: portfolio value is zero, nothing to measure against", ErrInvalidGoal)
		}
	case KindRiskReductionPct:
		if baseline.RiskPct <= 0 {
			return fmt.Errorf("%w: baseline risk is zero, nothing to reduce", ErrInvalidGoal)
		}
		if target > 100 {
			return fmt.Errorf("%w: risk reduction cannot exceed 100%%", ErrInvalidGoal)
		}
	}
	return nil
}

// Progress is a pure function of (kind, baseline, target, current). The result
// is clamped at 0, has no upper bound and is not rounded; use Round for display.
func Progress(kind Kind, baseline Metrics, target float64, current Metrics) float64 {
	if target <= 0 {
		return 0
	}
	var pct float64
	switch kind {
	case KindPortfolioGainPct:
		if baseline.Value <= 0 {
			return 0
		}
		gain := (current.Value/baseline.Value - 1) * 100
		pct = gain / target * 100
	case KindPortfolioValueAbs:
		span := target - baseline.Value
		if span <= 0 {
			return 100
		}
		pct = (current.Value - baseline.Value) / span * 100
	case KindDailyProfitAbs:
		pct = current.PnL / target * 100
	case KindRiskReductionPct:
		if baseline.RiskPct <= 0 {
			return 0
		}
		reduction := (baseline.RiskPct - current.RiskPct) / baseline.RiskPct * 100
		pct = reduction / target * 100
	case KindCustom:
		pct = (current.Value - baseline.Value) / target * 100
	default:
		return 0
	}
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	return pct
}

// reachedEpsilon absorbs float noise such as 99.99999999999999 for an exact hit.
const reachedEpsilon = 1e-9

// Reached reports whether unrounded progress pct is at or past threshold.
func Reached(pct, threshold float64) bool {
	return pct >= threshold-reachedEpsilon
}

// CurrentValue is the number reported next to pct_complete in snapshots.
func CurrentValue(kind Kind, current Metrics) float64 {
	switch kind {
	case KindDailyProfitAbs:
		return current.PnL
	case KindRiskReductionPct:
		return current.RiskPct
	default:
		return current.Value
	}
}

// NewMilestones returns thresholds crossed by pct that are not in fired, ascending.
func NewMilestones(fired []int, pct float64) []int {
	seen := make(map[int]bool, len(fired))
	for _, m := range fired {
		seen[m] = true
	}
	var out []int
	for _, m := range Milestones {
		if !seen[m] && Reached(pct, float64(m)) {
			out = append(out, m)
		}
	}
	return out
}

// MergeMilestones is a set union; it never drops an entry.
func MergeMilestones(fired []int, add []int) []int {
	set := make(map[int]struct{}, len(fired)+len(add))
	for _, m := range fired {
		set[m] = struct{}{}
	}
	for _, m := range add {
		set[m] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// ClassifyTrend compares against the previous snapshot in pct points per day.
func ClassifyTrend(prev *ProgressSnapshot, pct float64, at time.Time) Trend {
	if prev == nil {
		return TrendInsufficient
	}
	elapsed := at.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return TrendStable
	}
	rate := (pct - prev.PctComplete) / elapsed.Hours() * 24
	switch {
	case rate > 5:
		return TrendAccelerating
	case rate > 0.5:
		return TrendSteady
	case rate > -0.5:
		return TrendStable
	default:
		return TrendDeclining
	}
}

// EstimateDaysToCompletion extrapolates the average daily progress rate over
// history (oldest first). ok is false when progress is flat or negative.
func EstimateDaysToCompletion(history []ProgressSnapshot) (days float64, ok bool) {
	if len(history) < 2 {
		return 0, false
	}
	first, last := history[0], history[len(history)-1]
	if last.PctComplete >= 100 {
		return 0, true
	}
	elapsedDays := last.Timestamp.Sub(first.Timestamp).Hours() / 24
	if elapsedDays <= 0 {
		return 0, false
	}
	rate := (last.PctComplete - first.PctComplete) / elapsedDays
	if rate <= 0 {
		return 0, false
	}
	return Round((100-last.PctComplete)/rate, 1), true
}

// Round rounds half away from zero to places decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
