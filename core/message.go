package core

import "fmt"

// Message is the routed envelope.
//
// A message belongs to the worker currently processing it. That worker may
// mutate it until it hands the message back to the node with a route call;
// after that it must not touch the message again.
type Message struct {
	// OnwardRoute is the remaining forward path; its head is the next hop
	OnwardRoute Route

	// ReturnRoute is the path travelled so far, usable to reply
	ReturnRoute Route

	// Payload is opaque to the routing layer
	Payload any
}

// NewMessage creates a message with the given routes and payload.
func NewMessage(onward, ret Route, payload any) *Message {
	return &Message{
		OnwardRoute: onward,
		ReturnRoute: ret,
		Payload:     payload,
	}
}

// Step performs the canonical forwarding step for the worker at self: it
// removes self from the front of the onward route when present and prepends
// self to the return route. Step assumes the head was not consumed before
// delivery; on nodes running with AutoAdvance use Context.Forward.
func (m *Message) Step(self Address) {
	if head, ok := m.OnwardRoute.Next(); ok && head.Equal(self) {
		_, m.OnwardRoute = m.OnwardRoute.Advance()
	}
	m.ReturnRoute = m.ReturnRoute.Prepend(self)
}

// ReplyFrom turns a request into a response sent by self: the return route
// becomes the onward route and the return route becomes [self].
func (m *Message) ReplyFrom(self Address) {
	m.OnwardRoute = m.ReturnRoute.Clone()
	m.ReturnRoute = Route{self}
}

// Clone copies both routes. The payload is shared.
func (m *Message) Clone() *Message {
	return &Message{
		OnwardRoute: m.OnwardRoute.Clone(),
		ReturnRoute: m.ReturnRoute.Clone(),
		Payload:     m.Payload,
	}
}

// String returns a short description used in logs.
func (m *Message) String() string {
	return fmt.Sprintf("onward=%s return=%s", m.OnwardRoute, m.ReturnRoute)
}
