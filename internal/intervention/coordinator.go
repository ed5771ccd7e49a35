package intervention

import (
	"context"
	"sync"

	"goaltrader/internal/logger"
)

// Handler 处理单个任务；返回的错误只记录，不影响后续任务。
type Handler func(ctx context.Context, t Task) error

type Disposition string

const (
	Started Disposition = "started"
	Queued  Disposition = "queued"
)

// Coordinator 保证任意时刻至多一个处理单元在执行。空闲时提交的任务立即执行，
// 执行期间提交的任务入队，当前单元结束后按批次排空队列再释放。
type Coordinator struct {
	queue  *Queue
	handle Handler

	mu       sync.Mutex
	inFlight bool
	wg       sync.WaitGroup
}

func NewCoordinator(q *Queue, h Handler) *Coordinator {
	return &Coordinator{queue: q, handle: h}
}

func (c *Coordinator) Queue() *Queue { return c.queue }

func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Submit 在后台执行或入队。ctx 只约束处理过程，不约束入队。
func (c *Coordinator) Submit(ctx context.Context, t Task) (Task, Disposition, error) {
	c.mu.Lock()
	if c.inFlight {
		queued, err := c.queue.Enqueue(t)
		c.mu.Unlock()
		if err != nil {
			return Task{}, "", err
		}
		logger.With("task", queued.ID).Infof("intervention queued priority=%s pending=%d", queued.Priority, c.queue.Len())
		return queued, Queued, nil
	}
	stamped, err := c.queue.prepare(t)
	if err != nil {
		c.mu.Unlock()
		return Task{}, "", err
	}
	c.inFlight = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), &stamped)
	return stamped, Started, nil
}

// Kick 在空闲且队列非空时开始排空；返回是否启动了处理单元。
func (c *Coordinator) Kick(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight || c.queue.Len() == 0 {
		return false
	}
	c.inFlight = true
	c.wg.Add(1)
	go c.run(context.WithoutCancel(ctx), nil)
	return true
}

func (c *Coordinator) run(ctx context.Context, first *Task) {
	defer c.wg.Done()
	if first != nil {
		c.process(ctx, *first)
	}
	for {
		c.mu.Lock()
		batch := c.queue.Drain()
		if len(batch) == 0 {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		logger.Infof("intervention: processing %d queued task(s)", len(batch))
		for _, t := range batch {
			c.process(ctx, t)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.With("task", t.ID).Errorf("intervention handler panic: %v", r)
		}
	}()
	if err := c.handle(ctx, t); err != nil {
		logger.With("task", t.ID).Warnf("intervention %q failed: %v", t.Description, err)
	}
}

// Wait 阻塞到当前处理单元（含排队任务）全部结束。
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
