package execlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"goaltrader/internal/trade"

	_ "modernc.org/sqlite"
)

// Store 是只追加的执行日志，按 (goal_id, session_ts) 归档每一笔下单结果。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Entry 对应一次 Execute 调用的审计记录。
type Entry struct {
	ID            int64   `json:"id"`
	GoalID        string  `json:"goal_id"`
	SessionID     string  `json:"session_id"`
	SessionTS     int64   `json:"session_ts"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	Status        string  `json:"status"`
	BrokerOrderID string  `json:"broker_order_id,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Error         string  `json:"error,omitempty"`
	Timestamp     int64   `json:"ts"`
}

type Query struct {
	GoalID    string
	SessionTS int64
	Symbol    string
	Limit     int
	Offset    int
}

// NewStore 初始化 SQLite 执行日志。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("execution log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS execution_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			goal_id TEXT NOT NULL,
			session_id TEXT,
			session_ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL,
			price REAL,
			status TEXT NOT NULL,
			broker_order_id TEXT,
			reason TEXT,
			error TEXT,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_log_session ON execution_log(goal_id, session_ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("execution log store 未初始化")
	}
	return db, nil
}

// Append 写入一条记录，返回自增 id。
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO execution_log
			(goal_id, session_id, session_ts, symbol, side, quantity, price, status, broker_order_id, reason, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.GoalID, e.SessionID, e.SessionTS, strings.ToUpper(e.Symbol), e.Side,
		e.Quantity, e.Price, e.Status, e.BrokerOrderID, e.Reason, e.Error, e.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// List 按时间倒序返回执行记录。
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT id, goal_id, session_id, session_ts, symbol, side, quantity, price,
		status, broker_order_id, reason, error, ts FROM execution_log WHERE 1=1`)
	if q.GoalID != "" {
		sb.WriteString(" AND goal_id=?")
		args = append(args, q.GoalID)
	}
	if q.SessionTS != 0 {
		sb.WriteString(" AND session_ts=?")
		args = append(args, q.SessionTS)
	}
	if sym := strings.TrimSpace(q.Symbol); sym != "" {
		sb.WriteString(" AND symbol=?")
		args = append(args, strings.ToUpper(sym))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entry
	for rows.Next() {
		var (
			e         Entry
			sessionID sql.NullString
			orderID   sql.NullString
			reason    sql.NullString
			errStr    sql.NullString
			qty       sql.NullFloat64
			price     sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.GoalID, &sessionID, &e.SessionTS, &e.Symbol, &e.Side,
			&qty, &price, &e.Status, &orderID, &reason, &errStr, &e.Timestamp); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		e.BrokerOrderID = orderID.String
		e.Reason = reason.String
		e.Error = errStr.String
		e.Quantity = qty.Float64
		e.Price = price.Float64
		list = append(list, e)
	}
	return list, rows.Err()
}

// FromResult 把执行结果展开成日志记录。
func FromResult(goalID, sessionID string, sessionAt time.Time, res trade.ExecutionResult) Entry {
	qty := res.FilledQuantity
	if qty == 0 && res.Action.Quantity != nil {
		qty = *res.Action.Quantity
	}
	ts := res.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return Entry{
		GoalID:        goalID,
		SessionID:     sessionID,
		SessionTS:     sessionAt.UTC().Unix(),
		Symbol:        res.Action.Symbol,
		Side:          string(res.Action.Side),
		Quantity:      qty,
		Price:         res.FilledPrice,
		Status:        string(res.Status),
		BrokerOrderID: res.BrokerOrderID,
		Reason:        res.Action.Reason,
		Error:         res.Error,
		Timestamp:     ts.UnixMilli(),
	}
}
