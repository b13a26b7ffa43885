package core

// AddressTypePlugin handles every address of one AddressType.
//
// Transports implement it and register themselves with Router.RegisterPlugin
// to extend routing beyond LOCAL addresses.
type AddressTypePlugin interface {
	// HandleMessage takes over a message whose onward route starts with an
	// address of the plugin's type.
	HandleMessage(msg *Message)

	// AddressToString returns the canonical string form of addr, or false
	// when the address cannot be converted.
	AddressToString(addr Address) (string, bool)

	// AddressToBytes returns the canonical byte form of addr, or false when
	// the address cannot be converted.
	AddressToBytes(addr Address) ([]byte, bool)
}

// PluginFuncs adapts plain functions to AddressTypePlugin. Nil conversion
// functions report that no conversion is available.
type PluginFuncs struct {
	Handle   func(msg *Message)
	ToString func(addr Address) (string, bool)
	ToBytes  func(addr Address) ([]byte, bool)
}

var _ AddressTypePlugin = PluginFuncs{}

// HandleMessage calls Handle.
func (p PluginFuncs) HandleMessage(msg *Message) {
	if p.Handle != nil {
		p.Handle(msg)
	}
}

// AddressToString calls ToString.
func (p PluginFuncs) AddressToString(addr Address) (string, bool) {
	if p.ToString == nil {
		return "", false
	}
	return p.ToString(addr)
}

// AddressToBytes calls ToBytes.
func (p PluginFuncs) AddressToBytes(addr Address) ([]byte, bool) {
	if p.ToBytes == nil {
		return nil, false
	}
	return p.ToBytes(addr)
}

// UnroutableHandler receives messages the routing layer had to drop, with the
// reason. It is a reporting sink: it must not panic and should return quickly.
type UnroutableHandler func(msg *Message, reason error)

// Router dispatches messages to the plugin registered for the type of the
// first address of their onward route.
type Router interface {
	// Route dispatches msg. Messages with an empty onward route or with a
	// head address of an unregistered type go to the unroutable handler.
	Route(msg *Message)

	// RegisterPlugin installs the plugin for an address type.
	RegisterPlugin(t AddressType, p AddressTypePlugin) error

	// UnregisterPlugin removes the plugin for an address type.
	UnregisterPlugin(t AddressType) error

	// Plugin returns the plugin registered for an address type.
	Plugin(t AddressType) (AddressTypePlugin, bool)

	// Types returns the registered address types in ascending order.
	Types() []AddressType

	// ConvertAddressToString returns the canonical string of addr using the
	// plugin of its type, or false when no plugin can convert it.
	ConvertAddressToString(addr Address) (string, bool)

	// ConvertAddressToBytes returns the canonical bytes of addr using the
	// plugin of its type, or false when no plugin can convert it.
	ConvertAddressToBytes(addr Address) ([]byte, bool)

	// SetUnroutableHandler replaces the unroutable sink. Nil restores the
	// default, which logs the dropped message.
	SetUnroutableHandler(h UnroutableHandler)

	// ReportUnroutable hands msg to the unroutable sink. Plugins use it to
	// report failures through the same channel as the router.
	ReportUnroutable(msg *Message, reason error)
}

// Worker is an addressable unit of computation hosted by a Node.
type Worker interface {
	// HandleMessage processes a message delivered at the worker's address.
	// The returned error is logged and counted by the node; it does not
	// affect other deliveries.
	HandleMessage(ctx *Context, msg *Message) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx *Context, msg *Message) error

// HandleMessage calls f.
func (f WorkerFunc) HandleMessage(ctx *Context, msg *Message) error {
	return f(ctx, msg)
}
