package model

import (
	"gorm.io/datatypes"
)

type GoalModel struct {
	ID                  string         `gorm:"column:id;primaryKey"`
	Kind                string         `gorm:"column:kind;not null"`
	TargetValue         float64        `gorm:"column:target_value;not null"`
	BaselineJSON        datatypes.JSON `gorm:"column:baseline_json;type:TEXT"`
	Status              string         `gorm:"column:status;index;not null"`
	DailyTradingEnabled bool           `gorm:"column:daily_trading_enabled"`
	MilestonesJSON      datatypes.JSON `gorm:"column:milestones_json;type:TEXT"`
	Description         string         `gorm:"column:description"`
	DeadlineUnix        *int64         `gorm:"column:deadline"`
	CreatedAtUnix       int64          `gorm:"column:created_at;index"`
	LastSessionUnix     *int64         `gorm:"column:last_session_at"`
	CompletedAtUnix     *int64         `gorm:"column:completed_at"`
	UpdatedAtUnix       int64          `gorm:"column:updated_at"`
}

func (GoalModel) TableName() string { return "trading_goals" }

type ProgressSnapshotModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	GoalID        string  `gorm:"column:goal_id;index:idx_goal_progress,priority:1;not null"`
	TimestampUnix int64   `gorm:"column:ts;index:idx_goal_progress,priority:2"`
	CurrentValue  float64 `gorm:"column:current_value"`
	PctComplete   float64 `gorm:"column:pct_complete"`
	Trend         string  `gorm:"column:trend"`
}

func (ProgressSnapshotModel) TableName() string { return "goal_progress" }

type SessionModel struct {
	ID              string  `gorm:"column:id;primaryKey"`
	GoalID          string  `gorm:"column:goal_id;index:idx_goal_session,priority:1;not null"`
	StartedAtUnix   int64   `gorm:"column:started_at;index:idx_goal_session,priority:2"`
	EndedAtUnix     int64   `gorm:"column:ended_at"`
	Status          string  `gorm:"column:status"`
	ActionsParsed   int     `gorm:"column:actions_parsed"`
	ActionsExecuted int     `gorm:"column:actions_executed"`
	ActionsRejected int     `gorm:"column:actions_rejected"`
	ActionsFailed   int     `gorm:"column:actions_failed"`
	ProfitLoss      float64 `gorm:"column:profit_loss"`
	ProgressBefore  float64 `gorm:"column:progress_before"`
	ProgressAfter   float64 `gorm:"column:progress_after"`
	Error           string  `gorm:"column:error"`
	Notes           string  `gorm:"column:notes"`
}

func (SessionModel) TableName() string { return "daily_trading_sessions" }
