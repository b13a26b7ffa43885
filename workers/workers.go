// Package workers provides the reference worker behaviours: forwarding hops,
// terminal printers and echo responders.
package workers

import (
	"go.uber.org/zap"

	"github.com/najoast/relay/core"
)

// Hop forwards every message one step along its onward route, recording
// itself on the return route.
type Hop struct{}

var _ core.Worker = Hop{}

// HandleMessage forwards msg.
func (Hop) HandleMessage(ctx *core.Context, msg *core.Message) error {
	ctx.Forward(msg)
	return nil
}

// Printer is a terminal sink. It logs each message and passes it to
// OnMessage when set; it never routes further.
type Printer struct {
	// Logger overrides the worker's context logger
	Logger *zap.Logger

	// OnMessage observes each delivered message
	OnMessage func(ctx *core.Context, msg *core.Message)
}

var _ core.Worker = (*Printer)(nil)

// HandleMessage logs and observes msg.
func (p *Printer) HandleMessage(ctx *core.Context, msg *core.Message) error {
	logger := p.Logger
	if logger == nil {
		logger = ctx.Logger()
	}
	logger.Info("message received",
		zap.Stringer("address", ctx.Address()),
		zap.Stringer("onward", msg.OnwardRoute),
		zap.Stringer("return", msg.ReturnRoute),
		zap.Any("payload", msg.Payload),
	)

	if p.OnMessage != nil {
		p.OnMessage(ctx, msg)
	}
	return nil
}

// Echoer replies to every message by reversing its path: the return route
// becomes the onward route and the echoer becomes the return address.
type Echoer struct{}

var _ core.Worker = Echoer{}

// HandleMessage replies to msg.
func (Echoer) HandleMessage(ctx *core.Context, msg *core.Message) error {
	ctx.Reply(msg)
	return nil
}
