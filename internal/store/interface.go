package store

import (
	"context"
	"time"

	"goaltrader/internal/goal"
)

// GoalStore is the source of truth for goals, progress snapshots and session
// history. Writes are atomic per record; status writes are compare-and-swap.
type GoalStore interface {
	// Create persists a new goal and returns its id.
	Create(ctx context.Context, g goal.Goal) (string, error)
	// Get returns goal.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (goal.Goal, error)
	// List returns goals in any of the given statuses (all goals when empty), oldest first.
	List(ctx context.Context, statuses ...goal.Status) ([]goal.Goal, error)
	// UpdateStatus moves a goal along the forward graph or fails with goal.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, to goal.Status) error
	// CompareAndSwapStatus only writes when the stored status still equals from.
	// swapped is false when another writer got there first.
	CompareAndSwapStatus(ctx context.Context, id string, from, to goal.Status, at time.Time) (swapped bool, err error)

	AppendSnapshot(ctx context.Context, snap goal.ProgressSnapshot) error
	// LatestSnapshot returns nil when the goal has no snapshot yet.
	LatestSnapshot(ctx context.Context, goalID string) (*goal.ProgressSnapshot, error)
	ListSnapshots(ctx context.Context, goalID string, since time.Time, limit int) ([]goal.ProgressSnapshot, error)

	// MarkMilestones unions thresholds into the fired set and returns the ones that were new.
	MarkMilestones(ctx context.Context, id string, thresholds []int) ([]int, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	AppendSession(ctx context.Context, s goal.Session) error
	ListSessions(ctx context.Context, goalID string, limit int) ([]goal.Session, error)

	Close() error
}
