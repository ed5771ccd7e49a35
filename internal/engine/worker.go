package engine

import "sync"

type worker struct {
	goalID string
	wake   chan struct{}

	mu    sync.Mutex
	state WorkerState
}

func newWorker(goalID string) *worker {
	return &worker{goalID: goalID, wake: make(chan struct{}, 1), state: StateIdle}
}

// poke 非阻塞唤醒；已有未处理的唤醒时丢弃。
func (w *worker) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) set(to WorkerState) WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	from := w.state
	w.state = to
	return from
}

func (w *worker) current() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
