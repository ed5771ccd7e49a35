package goal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidGoal       = errors.New("invalid goal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("goal not found")
)

type Kind string

const (
	KindPortfolioGainPct  Kind = "portfolio_gain_pct"
	KindDailyProfitAbs    Kind = "daily_profit_abs"
	KindPortfolioValueAbs Kind = "portfolio_value_abs"
	KindRiskReductionPct  Kind = "risk_reduction_pct"
	KindCustom            Kind = "custom"
)

var kinds = []Kind{
	KindPortfolioGainPct,
	KindDailyProfitAbs,
	KindPortfolioValueAbs,
	KindRiskReductionPct,
	KindCustom,
}

func Kinds() []Kind { return append([]Kind(nil), kinds...) }

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported kind %q", ErrInvalidGoal, raw)
}

// Metrics is the portfolio measurement a goal is judged against.
type Metrics struct {
	Value      float64   `json:"value"`
	PnL        float64   `json:"pnl"`
	RiskPct    float64   `json:"risk_pct"`
	CapturedAt time.Time `json:"captured_at"`
}

type Goal struct {
	ID                  string     `json:"id"`
	Kind                Kind       `json:"kind"`
	TargetValue         float64    `json:"target_value"`
	Baseline            Metrics    `json:"baseline"`
	Status              Status     `json:"status"`
	DailyTradingEnabled bool       `json:"daily_trading_enabled"`
	MilestonesFired     []int      `json:"milestones_fired"`
	Description         string     `json:"description,omitempty"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	LastSessionAt       *time.Time `json:"last_session_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (g Goal) HasMilestone(threshold int) bool {
	for _, m := range g.MilestonesFired {
		if m == threshold {
			return true
		}
	}
	return false
}

// Schedulable is true when a worker may run sessions for the goal.
func (g Goal) Schedulable() bool {
	return g.Status == StatusActive && g.DailyTradingEnabled
}

type Trend string

const (
	TrendInsufficient Trend = "insufficient_data"
	TrendAccelerating Trend = "accelerating"
	TrendSteady       Trend = "steady"
	TrendStable       Trend = "stable"
	TrendDeclining    Trend = "declining"
)

type ProgressSnapshot struct {
	GoalID       string    `json:"goal_id"`
	Timestamp    time.Time `json:"timestamp"`
	CurrentValue float64   `json:"current_value"`
	PctComplete  float64   `json:"pct_complete"`
	Trend        Trend     `json:"trend"`
}

type SessionStatus string

const (
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session summarizes one trading cycle for a goal.
type Session struct {
	ID              string        `json:"id"`
	GoalID          string        `json:"goal_id"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
	Status          SessionStatus `json:"status"`
	ActionsParsed   int           `json:"actions_parsed"`
	ActionsExecuted int           `json:"actions_executed"`
	ActionsRejected int           `json:"actions_rejected"`
	ActionsFailed   int           `json:"actions_failed"`
	ProfitLoss      float64       `json:"profit_loss"`
	ProgressBefore  float64       `json:"progress_before"`
	ProgressAfter   float64       `json:"progress_after"`
	Error           string        `json:"error,omitempty"`
	Notes           string        `json:"notes,omitempty"`
}
