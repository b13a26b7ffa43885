package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Node hosts workers at LOCAL addresses and routes messages through its
// Router. It registers itself as the plugin for LocalType at construction.
type Node struct {
	opts    NodeOptions
	router  *router
	table   *workerTable
	sched   *scheduler
	metrics *metrics
	clock   clock.Clock
	logger  *zap.Logger
}

// NewNode creates a Node and starts its delivery lanes.
func NewNode(opts NodeOptions) *Node {
	// Apply defaults for unset options
	defaults := DefaultNodeOptions()
	if opts.Name == "" {
		opts.Name = defaults.Name
	}
	if opts.Lanes <= 0 {
		opts.Lanes = defaults.Lanes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	logger := opts.Logger.With(zap.String("node", opts.Name))
	m := newMetrics(opts.Registerer)

	n := &Node{
		opts:    opts,
		table:   newWorkerTable(),
		metrics: m,
		clock:   opts.Clock,
		logger:  logger,
	}
	n.router = newRouter(opts, logger.Named("router"), m)

	// The plugin map is empty, so this cannot collide even in strict mode
	_ = n.router.RegisterPlugin(LocalType, localPlugin{node: n})

	n.sched = newScheduler(opts.Lanes, logger.Named("scheduler"))
	return n
}

// Name returns the node name.
func (n *Node) Name() string { return n.opts.Name }

// Router returns the node's router. Transports register their plugins on it.
func (n *Node) Router() Router { return n.router }

// Route forwards msg to the router.
func (n *Node) Route(msg *Message) {
	n.router.Route(msg)
}

// ConvertAddressToString returns the canonical string of addr.
func (n *Node) ConvertAddressToString(addr Address) (string, bool) {
	return n.router.ConvertAddressToString(addr)
}

// ConvertAddressToBytes returns the canonical bytes of addr.
func (n *Node) ConvertAddressToBytes(addr Address) ([]byte, bool) {
	return n.router.ConvertAddressToBytes(addr)
}

// StartWorker binds w at addr, a string, []byte or LOCAL Address, and returns
// the worker's Context. Binding an address that already has a worker
// replaces it; deliveries already scheduled still go to the previous worker.
// Addresses without a canonical string form are rejected and
// logged; the node keeps running.
func (n *Node) StartWorker(addr any, w Worker) (*Context, error) {
	if w == nil {
		return nil, ErrNilWorker
	}

	a, ok := ParseAddress(addr)
	if !ok {
		n.logger.Warn("malformed worker address, using LOCAL fallback",
			zap.Any("input", addr), zap.Stringer("address", a))
	}

	key, err := n.localKey(a)
	if err != nil {
		n.logger.Warn("cannot start worker", zap.Stringer("address", a), zap.Error(err))
		return nil, fmt.Errorf("start worker %s: %w", a, err)
	}

	b := &binding{
		addr:    a,
		key:     key,
		worker:  w,
		lane:    n.sched.laneFor(key),
		boundAt: n.clock.Now(),
	}
	b.ctx = &Context{
		address: a,
		node:    n,
		logger:  n.logger.With(zap.Stringer("worker", a)),
	}

	if prev := n.table.bind(b); prev != nil {
		n.logger.Info("replaced worker", zap.Stringer("address", a))
	} else {
		n.logger.Debug("started worker", zap.Stringer("address", a), zap.Int("lane", b.lane))
	}
	return b.ctx, nil
}

// StartWorkerFunc binds a plain function as a worker.
func (n *Node) StartWorkerFunc(addr any, fn func(ctx *Context, msg *Message) error) (*Context, error) {
	if fn == nil {
		return nil, ErrNilWorker
	}
	return n.StartWorker(addr, WorkerFunc(fn))
}

// StopWorker removes the worker bound at addr. Deliveries already scheduled
// for it still run.
func (n *Node) StopWorker(addr any) error {
	a := AddressOf(addr)
	key, err := n.localKey(a)
	if err != nil {
		return fmt.Errorf("stop worker %s: %w", a, err)
	}

	if _, ok := n.table.unbind(key); !ok {
		return fmt.Errorf("stop worker %s: %w", a, ErrUnknownAddress)
	}
	n.logger.Debug("stopped worker", zap.Stringer("address", a))
	return nil
}

// HasWorker reports whether a worker is bound at addr.
func (n *Node) HasWorker(addr any) bool {
	key, err := n.localKey(AddressOf(addr))
	if err != nil {
		return false
	}
	_, ok := n.table.lookup(key)
	return ok
}

// Workers returns the addresses with a bound worker.
func (n *Node) Workers() []Address {
	bindings := n.table.list()
	out := make([]Address, len(bindings))
	for i, b := range bindings {
		out[i] = b.addr
	}
	return out
}

// Stats returns statistics for all bound workers.
func (n *Node) Stats() []WorkerStats {
	bindings := n.table.list()
	out := make([]WorkerStats, len(bindings))
	for i, b := range bindings {
		out[i] = b.stats()
	}
	return out
}

// Pending returns the number of deliveries queued but not yet started.
func (n *Node) Pending() int {
	return n.sched.pending()
}

// RandomAddress returns a fresh LOCAL address for an ephemeral worker.
func (n *Node) RandomAddress() Address {
	return Local(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Shutdown stops accepting deliveries, drains the queued ones and waits for
// the lanes to finish or for ctx to expire. Messages routed to local workers
// after Shutdown are reported unroutable with ErrNodeStopped.
func (n *Node) Shutdown(ctx context.Context) error {
	n.logger.Debug("shutting down", zap.Int("pending", n.sched.pending()))
	return n.sched.stop(ctx)
}

// localKey returns the canonical worker table key of a local address.
func (n *Node) localKey(a Address) (string, error) {
	if !a.IsLocal() {
		return "", ErrNotLocal
	}
	key, ok := n.router.ConvertAddressToString(a)
	if !ok {
		return "", ErrUnconvertibleAddress
	}
	return key, nil
}

// handleLocal resolves the head address to a worker and schedules the
// delivery. It never calls the worker synchronously.
func (n *Node) handleLocal(msg *Message) {
	head, ok := msg.OnwardRoute.Next()
	if !ok {
		n.router.ReportUnroutable(msg, ErrEmptyRoute)
		return
	}

	key, err := n.localKey(head)
	if err != nil {
		n.router.ReportUnroutable(msg, fmt.Errorf("%w: %s: %w", ErrUnknownAddress, head, err))
		return
	}

	b, ok := n.table.lookup(key)
	if !ok {
		n.router.ReportUnroutable(msg, fmt.Errorf("%w: %s", ErrUnknownAddress, head))
		return
	}

	if !n.sched.schedule(b.lane, func() { n.deliver(b, msg) }) {
		n.router.ReportUnroutable(msg, ErrNodeStopped)
	}
}

// deliver runs one worker call. Errors and panics are contained here so the
// lane keeps draining.
func (n *Node) deliver(b *binding, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			n.metrics.failures.WithLabelValues("panic").Inc()
			n.logger.Error("worker panicked",
				zap.Stringer("address", b.addr),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if n.opts.AutoAdvance {
		_, msg.OnwardRoute = msg.OnwardRoute.Advance()
	}

	b.delivered.Add(1)
	b.lastMessageAt.Store(n.clock.Now().UnixNano())
	n.metrics.delivered.Inc()

	if err := b.worker.HandleMessage(b.ctx, msg); err != nil {
		b.failures.Add(1)
		n.metrics.failures.WithLabelValues("error").Inc()
		n.logger.Warn("worker returned error",
			zap.Stringer("address", b.addr),
			zap.Error(err),
		)
	}
}

// localPlugin is the node's AddressTypePlugin for LocalType.
type localPlugin struct {
	node *Node
}

func (p localPlugin) HandleMessage(msg *Message) {
	p.node.handleLocal(msg)
}

// Local addresses are canonically their value; the empty value has no form.
func (p localPlugin) AddressToString(addr Address) (string, bool) {
	if !addr.IsLocal() || addr.Value() == "" {
		return "", false
	}
	return addr.Value(), true
}

func (p localPlugin) AddressToBytes(addr Address) ([]byte, bool) {
	if !addr.IsLocal() || addr.Value() == "" {
		return nil, false
	}
	return addr.Bytes(), true
}
