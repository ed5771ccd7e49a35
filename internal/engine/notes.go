package engine

import "sync"

// Notes 暂存用户插入的备注，在目标的下一次会话中交给分析引擎并清空。
type Notes struct {
	mu      sync.Mutex
	pending map[string][]string
}

func NewNotes() *Notes {
	return &Notes{pending: make(map[string][]string)}
}

func (n *Notes) Add(goalID, note string) {
	n.mu.Lock()
	n.pending[goalID] = append(n.pending[goalID], note)
	n.mu.Unlock()
}

func (n *Notes) Take(goalID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.pending[goalID]
	delete(n.pending, goalID)
	return out
}

func (n *Notes) Pending(goalID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending[goalID])
}
