package core

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// router implements the Router interface.
type router struct {
	mu sync.RWMutex

	// Map of address type to the plugin handling it
	plugins map[AddressType]AddressTypePlugin

	unroutable UnroutableHandler

	// Reject re-registration instead of replacing
	strict bool

	logger  *zap.Logger
	metrics *metrics
}

// NewRouter creates a standalone Router. Nodes create their own router; this
// is for hosts that only need type dispatch.
func NewRouter(opts NodeOptions) Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return newRouter(opts, logger.Named("router"), newMetrics(opts.Registerer))
}

func newRouter(opts NodeOptions, logger *zap.Logger, m *metrics) *router {
	r := &router{
		plugins: make(map[AddressType]AddressTypePlugin),
		strict:  opts.StrictPlugins,
		logger:  logger,
		metrics: m,
	}
	r.unroutable = opts.Unroutable
	if r.unroutable == nil {
		r.unroutable = r.logUnroutable
	}
	return r
}

// Route dispatches msg to the plugin of its head address type.
func (r *router) Route(msg *Message) {
	if msg == nil {
		return
	}

	head, ok := msg.OnwardRoute.Next()
	if !ok {
		r.ReportUnroutable(msg, ErrEmptyRoute)
		return
	}

	plugin, ok := r.Plugin(head.Type())
	if !ok {
		r.ReportUnroutable(msg, fmt.Errorf("%w: %s", ErrNoPlugin, head.Type()))
		return
	}

	r.metrics.routed.WithLabelValues(head.Type().String()).Inc()
	plugin.HandleMessage(msg)
}

// RegisterPlugin installs the plugin for an address type.
func (r *router) RegisterPlugin(t AddressType, p AddressTypePlugin) error {
	if p == nil {
		return ErrNilPlugin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[t]; exists {
		if r.strict {
			return fmt.Errorf("%w: %s", ErrPluginExists, t)
		}
		r.logger.Warn("replacing address type plugin", zap.Stringer("type", t))
	}
	r.plugins[t] = p
	return nil
}

// UnregisterPlugin removes the plugin for an address type.
func (r *router) UnregisterPlugin(t AddressType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[t]; !exists {
		return fmt.Errorf("%w: %s", ErrNoPlugin, t)
	}
	delete(r.plugins, t)
	return nil
}

// Plugin returns the plugin registered for an address type.
func (r *router) Plugin(t AddressType) (AddressTypePlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[t]
	return p, ok
}

// Types returns the registered address types in ascending order.
func (r *router) Types() []AddressType {
	r.mu.RLock()
	types := make([]AddressType, 0, len(r.plugins))
	for t := range r.plugins {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ConvertAddressToString delegates to the plugin of the address type.
func (r *router) ConvertAddressToString(addr Address) (string, bool) {
	p, ok := r.Plugin(addr.Type())
	if !ok {
		return "", false
	}
	return p.AddressToString(addr)
}

// ConvertAddressToBytes delegates to the plugin of the address type.
func (r *router) ConvertAddressToBytes(addr Address) ([]byte, bool) {
	p, ok := r.Plugin(addr.Type())
	if !ok {
		return nil, false
	}
	return p.AddressToBytes(addr)
}

// SetUnroutableHandler replaces the unroutable sink.
func (r *router) SetUnroutableHandler(h UnroutableHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		h = r.logUnroutable
	}
	r.unroutable = h
}

// ReportUnroutable hands msg to the unroutable sink.
func (r *router) ReportUnroutable(msg *Message, reason error) {
	r.metrics.unroutable.WithLabelValues(reasonLabel(reason)).Inc()

	r.mu.RLock()
	h := r.unroutable
	r.mu.RUnlock()

	h(msg, reason)
}

func (r *router) logUnroutable(msg *Message, reason error) {
	r.logger.Warn("dropping unroutable message",
		zap.Error(reason),
		zap.Stringer("onward", msg.OnwardRoute),
		zap.Stringer("return", msg.ReturnRoute),
	)
}
