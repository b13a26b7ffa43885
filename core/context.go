package core

import "go.uber.org/zap"

// Context is a worker's handle on its node. It is created once per
// StartWorker call and is the only way a worker submits further messages.
type Context struct {
	address Address
	node    *Node
	logger  *zap.Logger
}

// Address returns the address the worker is bound at.
func (c *Context) Address() Address { return c.address }

// Node returns the node hosting the worker.
func (c *Context) Node() *Node { return c.node }

// Logger returns a logger tagged with the worker address.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Route hands msg back to the node. The worker must not use msg afterwards.
func (c *Context) Route(msg *Message) {
	c.node.Route(msg)
}

// Forward moves msg one hop along its onward route: the worker's address is
// consumed from the onward route, pushed onto the return route and the
// message is routed on. Under AutoAdvance the node has already consumed the
// head, so only the return route changes.
func (c *Context) Forward(msg *Message) {
	if c.node.opts.AutoAdvance {
		msg.ReturnRoute = msg.ReturnRoute.Prepend(c.address)
	} else {
		msg.Step(c.address)
	}
	c.node.Route(msg)
}

// Reply sends msg back along its return route with this worker as the new
// return address.
func (c *Context) Reply(msg *Message) {
	msg.ReplyFrom(c.address)
	c.node.Route(msg)
}

// Send routes a new message along onward with this worker as return address.
func (c *Context) Send(onward Route, payload any) {
	c.node.Route(NewMessage(onward.Clone(), Route{c.address}, payload))
}
