package core

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// binding ties a worker to its canonical local address.
type binding struct {
	addr    Address
	key     string
	worker  Worker
	ctx     *Context
	lane    int
	boundAt time.Time

	// Atomic counters for statistics
	delivered     atomic.Uint64
	failures      atomic.Uint64
	lastMessageAt atomic.Int64 // Unix nanoseconds
}

func (b *binding) stats() WorkerStats {
	var last time.Time
	if ns := b.lastMessageAt.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}

	return WorkerStats{
		Address:           b.addr,
		Lane:              b.lane,
		MessagesDelivered: b.delivered.Load(),
		Failures:          b.failures.Load(),
		BoundAt:           b.boundAt,
		LastMessageAt:     last,
	}
}

// workerTable maps canonical address strings to bindings.
type workerTable struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

func newWorkerTable() *workerTable {
	return &workerTable{bindings: make(map[string]*binding)}
}

// bind stores b and returns the binding it replaced, if any.
func (t *workerTable) bind(b *binding) *binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.bindings[b.key]
	t.bindings[b.key] = b
	return prev
}

func (t *workerTable) unbind(key string) (*binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.bindings[key]
	if exists {
		delete(t.bindings, key)
	}
	return b, exists
}

func (t *workerTable) lookup(key string) (*binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, exists := t.bindings[key]
	return b, exists
}

// list returns the bindings ordered by canonical address.
func (t *workerTable) list() []*binding {
	t.mu.RLock()
	out := make([]*binding, 0, len(t.bindings))
	for _, b := range t.bindings {
		out = append(out, b)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
