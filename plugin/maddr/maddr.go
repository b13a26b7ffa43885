// Package maddr provides an address type plugin for network addresses.
//
// TCP and UDP addresses are canonicalised as multiaddrs: the string form is
// the multiaddr text ("/ip4/127.0.0.1/tcp/4000") and the byte form is the
// multiaddr binary encoding. Values may be given in either form or as
// "host:port". Delivery is delegated to a Forwarder supplied by a transport.
package maddr

import (
	"errors"
	"fmt"
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/najoast/relay/core"
)

var (
	ErrUnsupportedType = errors.New("address type has no multiaddr transport")
	ErrWrongTransport  = errors.New("multiaddr does not use the plugin transport")
	ErrNoForwarder     = errors.New("no forwarder configured")
)

// Forwarder sends a message towards a remote address. Transports implement
// it; the plugin itself performs no I/O.
type Forwarder interface {
	Forward(to ma.Multiaddr, msg *core.Message) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(to ma.Multiaddr, msg *core.Message) error

// Forward calls f.
func (f ForwarderFunc) Forward(to ma.Multiaddr, msg *core.Message) error {
	return f(to, msg)
}

// Plugin implements core.AddressTypePlugin for one network address type.
type Plugin struct {
	typ       core.AddressType
	proto     ma.Protocol
	forwarder Forwarder
	report    core.UnroutableHandler
	logger    *zap.Logger
}

var _ core.AddressTypePlugin = (*Plugin)(nil)

// New creates a plugin for core.TCPType or core.UDPType.
func New(t core.AddressType, fwd Forwarder, logger *zap.Logger) (*Plugin, error) {
	var code int
	switch t {
	case core.TCPType:
		code = ma.P_TCP
	case core.UDPType:
		code = ma.P_UDP
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{
		typ:       t,
		proto:     ma.ProtocolWithCode(code),
		forwarder: fwd,
		logger:    logger.Named("maddr").With(zap.Stringer("type", t)),
	}, nil
}

// Register installs p on r and reports forwarding failures through r's
// unroutable handler.
func Register(r core.Router, p *Plugin) error {
	p.report = r.ReportUnroutable
	return r.RegisterPlugin(p.typ, p)
}

// Type returns the address type handled by p.
func (p *Plugin) Type() core.AddressType { return p.typ }

// Parse converts an address of the plugin's type into a multiaddr.
func (p *Plugin) Parse(addr core.Address) (ma.Multiaddr, error) {
	if addr.Type() != p.typ {
		return nil, fmt.Errorf("address %s is not of type %s", addr, p.typ)
	}

	value := addr.Value()
	if value == "" {
		return nil, fmt.Errorf("empty %s address", p.proto.Name)
	}

	var (
		m   ma.Multiaddr
		err error
	)
	switch {
	case strings.HasPrefix(value, "/"):
		m, err = ma.NewMultiaddr(value)
	default:
		if host, port, splitErr := net.SplitHostPort(value); splitErr == nil {
			m, err = ma.NewMultiaddr(p.hostPortText(host, port))
		} else {
			m, err = ma.NewMultiaddrBytes([]byte(value))
		}
	}
	if err != nil {
		return nil, err
	}

	if _, err := m.ValueForProtocol(p.proto.Code); err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrWrongTransport, p.proto.Name, m)
	}
	return m, nil
}

func (p *Plugin) hostPortText(host, port string) string {
	network := "dns"
	if ip := net.ParseIP(host); ip != nil {
		network = "ip6"
		if ip.To4() != nil {
			network = "ip4"
		}
	}
	return fmt.Sprintf("/%s/%s/%s/%s", network, host, p.proto.Name, port)
}

// AddressToString returns the multiaddr text of addr.
func (p *Plugin) AddressToString(addr core.Address) (string, bool) {
	m, err := p.Parse(addr)
	if err != nil {
		return "", false
	}
	return m.String(), true
}

// AddressToBytes returns the multiaddr binary encoding of addr.
func (p *Plugin) AddressToBytes(addr core.Address) ([]byte, bool) {
	m, err := p.Parse(addr)
	if err != nil {
		return nil, false
	}
	return m.Bytes(), true
}

// HandleMessage hands msg to the forwarder for its head address.
func (p *Plugin) HandleMessage(msg *core.Message) {
	head, ok := msg.OnwardRoute.Next()
	if !ok {
		p.fail(msg, core.ErrEmptyRoute)
		return
	}

	to, err := p.Parse(head)
	if err != nil {
		p.fail(msg, fmt.Errorf("%w: %w", core.ErrUnconvertibleAddress, err))
		return
	}

	if p.forwarder == nil {
		p.fail(msg, ErrNoForwarder)
		return
	}
	if err := p.forwarder.Forward(to, msg); err != nil {
		p.fail(msg, fmt.Errorf("forward to %s: %w", to, err))
	}
}

func (p *Plugin) fail(msg *core.Message, reason error) {
	if p.report != nil {
		p.report(msg, reason)
		return
	}
	p.logger.Warn("dropping message", zap.Error(reason), zap.Stringer("onward", msg.OnwardRoute))
}
