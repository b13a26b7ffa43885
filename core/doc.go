// Package core implements the typed-address routing core of relay.
//
// A Message carries an onward route, a return route and an opaque payload.
// The Router dispatches a message to the AddressTypePlugin registered for
// the type of the first address in its onward route. A Node owns a Router,
// registers the LOCAL address type for itself and delivers messages to the
// Workers bound at local addresses.
//
// Workers own the "pop my own address" step: local dispatch does not remove
// the head of the onward route before delivery unless the node runs with
// NodeOptions.AutoAdvance. Context.Forward performs the canonical step in
// either mode, so workers should use it rather than editing routes by hand.
package core
