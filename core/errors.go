package core

import "errors"

// Routing errors. They are reported through the unroutable handler and are
// terminal for the message that caused them.
var (
	ErrEmptyRoute     = errors.New("onward route is empty")
	ErrNoPlugin       = errors.New("no plugin registered for address type")
	ErrUnknownAddress = errors.New("no worker bound at address")
	ErrNodeStopped    = errors.New("node is stopped")
)

// Registration errors.
var (
	ErrPluginExists         = errors.New("plugin already registered for address type")
	ErrNilPlugin            = errors.New("cannot register nil plugin")
	ErrNilWorker            = errors.New("cannot bind nil worker")
	ErrNotLocal             = errors.New("address is not a local address")
	ErrUnconvertibleAddress = errors.New("address has no canonical string form")
)
