package core

import (
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NodeOptions contains configuration options for creating a Node.
type NodeOptions struct {
	// Name is a human-readable name used in logs
	Name string

	// Lanes is the number of delivery goroutines. Messages for one address
	// always use the same lane, so they are delivered in scheduling order.
	// One lane gives a single-threaded node.
	Lanes int

	// AutoAdvance makes local dispatch remove the head address from the
	// onward route before delivery
	AutoAdvance bool

	// StrictPlugins makes registering a second plugin for an address type an
	// error instead of replacing the first one
	StrictPlugins bool

	// Logger receives node and router logs; nil disables logging
	Logger *zap.Logger

	// Registerer receives the routing metrics; nil leaves them unregistered
	Registerer prometheus.Registerer

	// Clock stamps worker statistics; nil uses the wall clock
	Clock clock.Clock

	// Unroutable replaces the default unroutable sink when set
	Unroutable UnroutableHandler
}

// DefaultNodeOptions returns sensible default options.
func DefaultNodeOptions() NodeOptions {
	return NodeOptions{
		Name:  "relay",
		Lanes: runtime.GOMAXPROCS(0),
	}
}

// WorkerStats contains runtime statistics for a bound worker.
type WorkerStats struct {
	// Address the worker is bound at
	Address Address

	// Lane that delivers the worker's messages
	Lane int

	// Total messages handed to the worker
	MessagesDelivered uint64

	// Deliveries that returned an error or panicked
	Failures uint64

	// Time when the worker was bound
	BoundAt time.Time

	// Last delivery time
	LastMessageAt time.Time
}
