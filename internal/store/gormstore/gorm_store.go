package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"goaltrader/internal/goal"
	"goaltrader/internal/store"
	storemodel "goaltrader/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type goalModel = storemodel.GoalModel
type snapshotModel = storemodel.ProgressSnapshotModel
type sessionModel = storemodel.SessionModel

// GormStore implements store.GoalStore using Gorm + SQLite.
type GormStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

var _ store.GoalStore = (*GormStore)(nil)

// NewGormStore opens (or creates) the goal database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	// go-sqlite3 DSN flags; immediate transactions keep milestone unions serialized.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&goalModel{}, &snapshotModel{}, &sessionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Single connection: status CAS and milestone writes from many goal workers
	// queue here instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &GormStore{db: db, nowFn: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return nil
}

func (s *GormStore) Create(ctx context.Context, g goal.Goal) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(g.ID) == "" {
		g.ID = uuid.NewString()
	}
	now := s.nowFn().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = goal.StatusActive
	}
	m, err := newGoalModel(g)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return "", err
	}
	return g.ID, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (goal.Goal, error) {
	if err := s.ready(); err != nil {
		return goal.Goal{}, err
	}
	var m goalModel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goal.Goal{}, fmt.Errorf("%w: %s", goal.ErrNotFound, id)
	}
	if err != nil {
		return goal.Goal{}, err
	}
	return goalModelToGoal(m)
}

func (s *GormStore) List(ctx context.Context, statuses ...goal.Status) ([]goal.Goal, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(&goalModel{})
	if len(statuses) > 0 {
		raw := make([]string, 0, len(statuses))
		for _, st := range statuses {
			raw = append(raw, string(st))
		}
		q = q.Where("status IN ?", raw)
	}
	var rows []goalModel
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]goal.Goal, 0, len(rows))
	for _, m := range rows {
		g, err := goalModelToGoal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, id string, to goal.Status) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := goal.CheckTransition(current.Status, to); err != nil {
		return err
	}
	swapped, err := s.CompareAndSwapStatus(ctx, id, current.Status, to, s.nowFn())
	if err != nil {
		return err
	}
	if !swapped {
		latest, gerr := s.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s -> %s (now %s)", goal.ErrInvalidTransition, current.Status, to, latest.Status)
	}
	return nil
}

func (s *GormStore) CompareAndSwapStatus(ctx context.Context, id string, from, to goal.Status, at time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := goal.CheckTransition(from, to); err != nil {
		return false, err
	}
	if at.IsZero() {
		at = s.nowFn()
	}
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": at.UTC().Unix(),
	}
	if to == goal.StatusCompleted {
		updates["completed_at"] = at.UTC().Unix()
	}
	res := s.db.WithContext(ctx).Model(&goalModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&goalModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		if count == 0 {
			return false, fmt.Errorf("%w: %s", goal.ErrNotFound, id)
		}
		return false, nil
	}
	return true, nil
}

func (s *GormStore) AppendSnapshot(ctx context.Context, snap goal.ProgressSnapshot) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(snap.GoalID) == "" {
		return fmt.Errorf("snapshot requires goal_id")
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.nowFn()
	}
	m := snapshotModel{
		GoalID:        snap.GoalID,
		TimestampUnix: snap.Timestamp.UTC().Unix(),
		CurrentValue:  snap.CurrentValue,
		PctComplete:   snap.PctComplete,
		Trend:         string(snap.Trend),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) LatestSnapshot(ctx context.Context, goalID string) (*goal.ProgressSnapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []snapshotModel
	err := s.db.WithContext(ctx).
		Where("goal_id = ?", goalID).
		Order("ts DESC, id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	snap := snapshotModelToSnapshot(rows[0])
	return &snap, nil
}

// ListSnapshots returns snapshots oldest first; limit keeps the newest entries.
func (s *GormStore) ListSnapshots(ctx context.Context, goalID string, since time.Time, limit int) ([]goal.ProgressSnapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	q := s.db.WithContext(ctx).Where("goal_id = ?", goalID)
	if !since.IsZero() {
		q = q.Where("ts >= ?", since.UTC().Unix())
	}
	var rows []snapshotModel
	if err := q.Order("ts DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]goal.ProgressSnapshot, len(rows))
	for i, m := range rows {
		out[len(rows)-1-i] = snapshotModelToSnapshot(m)
	}
	return out, nil
}

func (s *GormStore) MarkMilestones(ctx context.Context, id string, thresholds []int) ([]int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(thresholds) == 0 {
		return nil, nil
	}
	var added []int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m goalModel
		if err := tx.Where("id = ?", id).Take(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", goal.ErrNotFound, id)
			}
			return err
		}
		fired, err := decodeMilestones(m.MilestonesJSON)
		if err != nil {
			return err
		}
		seen := make(map[int]bool, len(fired))
		for _, f := range fired {
			seen[f] = true
		}
		for _, t := range thresholds {
			if !seen[t] {
				seen[t] = true
				added = append(added, t)
			}
		}
		if len(added) == 0 {
			return nil
		}
		raw, err := json.Marshal(goal.MergeMilestones(fired, added))
		if err != nil {
			return err
		}
		return tx.Model(&goalModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"milestones_json": datatypes.JSON(raw),
			"updated_at":      s.nowFn().UTC().Unix(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *GormStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&goalModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_session_at": at.UTC().Unix(),
		"updated_at":      s.nowFn().UTC().Unix(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", goal.ErrNotFound, id)
	}
	return nil
}

func (s *GormStore) AppendSession(ctx context.Context, sess goal.Session) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(sess.ID) == "" {
		sess.ID = uuid.NewString()
	}
	m := newSessionModel(sess)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&m).Error
}

// ListSessions returns the newest sessions first.
func (s *GormStore) ListSessions(ctx context.Context, goalID string, limit int) ([]goal.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 30
	}
	var rows []sessionModel
	err := s.db.WithContext(ctx).
		Where("goal_id = ?", goalID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]goal.Session, 0, len(rows))
	for _, m := range rows {
		out = append(out, sessionModelToSession(m))
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func newGoalModel(g goal.Goal) (goalModel, error) {
	baseline, err := json.Marshal(g.Baseline)
	if err != nil {
		return goalModel{}, err
	}
	milestones, err := json.Marshal(goal.MergeMilestones(nil, g.MilestonesFired))
	if err != nil {
		return goalModel{}, err
	}
	return goalModel{
		ID:                  g.ID,
		Kind:                string(g.Kind),
		TargetValue:         g.TargetValue,
		BaselineJSON:        datatypes.JSON(baseline),
		Status:              string(g.Status),
		DailyTradingEnabled: g.DailyTradingEnabled,
		MilestonesJSON:      datatypes.JSON(milestones),
		Description:         g.Description,
		DeadlineUnix:        unixPtr(g.Deadline),
		CreatedAtUnix:       g.CreatedAt.UTC().Unix(),
		LastSessionUnix:     unixPtr(g.LastSessionAt),
		CompletedAtUnix:     unixPtr(g.CompletedAt),
		UpdatedAtUnix:       g.UpdatedAt.UTC().Unix(),
	}, nil
}

func goalModelToGoal(m goalModel) (goal.Goal, error) {
	var baseline goal.Metrics
	if len(m.BaselineJSON) > 0 {
		if err := json.Unmarshal(m.BaselineJSON, &baseline); err != nil {
			return goal.Goal{}, fmt.Errorf("decode baseline of %s: %w", m.ID, err)
		}
	}
	fired, err := decodeMilestones(m.MilestonesJSON)
	if err != nil {
		return goal.Goal{}, fmt.Errorf("decode milestones of %s: %w", m.ID, err)
	}
	return goal.Goal{
		ID:                  m.ID,
		Kind:                goal.Kind(m.Kind),
		TargetValue:         m.TargetValue,
		Baseline:            baseline,
		Status:              goal.Status(m.Status),
		DailyTradingEnabled: m.DailyTradingEnabled,
		MilestonesFired:     fired,
		Description:         m.Description,
		Deadline:            timePtr(m.DeadlineUnix),
		CreatedAt:           time.Unix(m.CreatedAtUnix, 0).UTC(),
		LastSessionAt:       timePtr(m.LastSessionUnix),
		CompletedAt:         timePtr(m.CompletedAtUnix),
		UpdatedAt:           time.Unix(m.UpdatedAtUnix, 0).UTC(),
	}, nil
}

func decodeMilestones(raw datatypes.JSON) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func snapshotModelToSnapshot(m snapshotModel) goal.ProgressSnapshot {
	return goal.ProgressSnapshot{
		GoalID:       m.GoalID,
		Timestamp:    time.Unix(m.TimestampUnix, 0).UTC(),
		CurrentValue: m.CurrentValue,
		PctComplete:  m.PctComplete,
		Trend:        goal.Trend(m.Trend),
	}
}

func newSessionModel(s goal.Session) sessionModel {
	return sessionModel{
		ID:              s.ID,
		GoalID:          s.GoalID,
		StartedAtUnix:   s.StartedAt.UTC().Unix(),
		EndedAtUnix:     s.EndedAt.UTC().Unix(),
		Status:          string(s.Status),
		ActionsParsed:   s.ActionsParsed,
		ActionsExecuted: s.ActionsExecuted,
		ActionsRejected: s.ActionsRejected,
		ActionsFailed:   s.ActionsFailed,
		ProfitLoss:      s.ProfitLoss,
		ProgressBefore:  s.ProgressBefore,
		ProgressAfter:   s.ProgressAfter,
		Error:           s.Error,
		Notes:           s.Notes,
	}
}

func sessionModelToSession(m sessionModel) goal.Session {
	return goal.Session{
		ID:              m.ID,
		GoalID:          m.GoalID,
		StartedAt:       time.Unix(m.StartedAtUnix, 0).UTC(),
		EndedAt:         time.Unix(m.EndedAtUnix, 0).UTC(),
		Status:          goal.SessionStatus(m.Status),
		ActionsParsed:   m.ActionsParsed,
		ActionsExecuted: m.ActionsExecuted,
		ActionsRejected: m.ActionsRejected,
		ActionsFailed:   m.ActionsFailed,
		ProfitLoss:      m.ProfitLoss,
		ProgressBefore:  m.ProgressBefore,
		ProgressAfter:   m.ProgressAfter,
		Error:           m.Error,
		Notes:           m.Notes,
	}
}

func unixPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC().Unix()
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
