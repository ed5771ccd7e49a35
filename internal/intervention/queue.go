package intervention

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull        = errors.New("intervention queue is full")
	ErrEmptyDescription = errors.New("intervention description is empty")
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// 数组下标即出队顺序
var tiers = [...]Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority 空值视为 normal。
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if p == "" {
		return PriorityNormal, nil
	}
	for _, t := range tiers {
		if p == t {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

func (p Priority) tier() int {
	for i, t := range tiers {
		if p == t {
			return i
		}
	}
	return 1
}

type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	GoalID      string    `json:"goal_id,omitempty"`
	Priority    Priority  `json:"priority"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queue 按优先级分层、层内 FIFO；所有操作在同一把锁下原子完成。
type Queue struct {
	mu    sync.Mutex
	tiers [len(tiers)][]Task
	max   int
	nowFn func() time.Time
}

// NewQueue maxPending<=0 表示不限长度。
func NewQueue(maxPending int) *Queue {
	return &Queue{max: maxPending, nowFn: time.Now}
}

// Enqueue 补全 ID/时间戳后入队；Description 必填，Priority 为空按 normal。
func (q *Queue) Enqueue(t Task) (Task, error) {
	t, err := q.prepare(t)
	if err != nil {
		return Task{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && q.lenLocked() >= q.max {
		return Task{}, fmt.Errorf("%w (%d pending)", ErrQueueFull, q.max)
	}
	i := t.Priority.tier()
	q.tiers[i] = append(q.tiers[i], t)
	return t, nil
}

func (q *Queue) prepare(t Task) (Task, error) {
	t.Description = strings.TrimSpace(t.Description)
	if t.Description == "" {
		return Task{}, ErrEmptyDescription
	}
	p, err := ParsePriority(string(t.Priority))
	if err != nil {
		return Task{}, err
	}
	t.Priority = p
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.nowFn()
	}
	return t, nil
}

// Drain 取出全部任务：high 先于 normal 先于 low，同层按入队顺序。
func (q *Queue) Drain() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.orderedLocked()
	for i := range q.tiers {
		q.tiers[i] = nil
	}
	return out
}

// Peek 返回当前排队内容的副本，不出队。
func (q *Queue) Peek() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.orderedLocked()
}

func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, tier := range q.tiers {
		for j, t := range tier {
			if t.ID == id {
				q.tiers[i] = append(tier[:j:j], tier[j+1:]...)
				return true
			}
		}
	}
	return false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int {
	n := 0
	for _, tier := range q.tiers {
		n += len(tier)
	}
	return n
}

func (q *Queue) orderedLocked() []Task {
	out := make([]Task, 0, q.lenLocked())
	for _, tier := range q.tiers {
		out = append(out, tier...)
	}
	return out
}
