package maddr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/najoast/relay/core"
)

func TestNewRejectsLocal(t *testing.T) {
	_, err := New(core.LocalType, nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestAddressToString(t *testing.T) {
	tcp, err := New(core.TCPType, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	udp, err := New(core.UDPType, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		plugin *Plugin
		value  string
		want   string
		ok     bool
	}{
		{"multiaddr", tcp, "/ip4/127.0.0.1/tcp/4000", "/ip4/127.0.0.1/tcp/4000", true},
		{"ipv4 host port", tcp, "127.0.0.1:4000", "/ip4/127.0.0.1/tcp/4000", true},
		{"ipv6 host port", tcp, "[::1]:4000", "/ip6/::1/tcp/4000", true},
		{"dns host port", tcp, "example.com:80", "/dns/example.com/tcp/80", true},
		{"udp", udp, "10.0.0.1:53", "/ip4/10.0.0.1/udp/53", true},
		{"wrong transport", udp, "/ip4/10.0.0.1/tcp/53", "", false},
		{"bad port", tcp, "127.0.0.1:http", "", false},
		{"garbage", tcp, "not an address", "", false},
		{"empty", tcp, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.plugin.AddressToString(core.NewAddress(tt.plugin.Type(), tt.value))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddressToBytesRoundTrip(t *testing.T) {
	p, err := New(core.TCPType, nil, nil)
	require.NoError(t, err)

	b, ok := p.AddressToBytes(core.NewAddress(core.TCPType, "127.0.0.1:4000"))
	require.True(t, ok)

	want, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4000")
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), b)

	// The binary form is accepted as an address value too
	s, ok := p.AddressToString(core.NewAddressBytes(core.TCPType, b))
	require.True(t, ok)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4000", s)
}

func TestAddressOfOtherType(t *testing.T) {
	p, err := New(core.TCPType, nil, nil)
	require.NoError(t, err)

	_, ok := p.AddressToString(core.Local("127.0.0.1:4000"))
	assert.False(t, ok)
}

type recordingForwarder struct {
	mu   sync.Mutex
	to   []string
	msgs []*core.Message
	err  error
}

func (f *recordingForwarder) Forward(to ma.Multiaddr, msg *core.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to.String())
	f.msgs = append(f.msgs, msg)
	return f.err
}

type unroutable struct {
	mu      sync.Mutex
	reasons []error
}

func (u *unroutable) handle(_ *core.Message, reason error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reasons = append(u.reasons, reason)
}

func newNode(t *testing.T, u *unroutable) *core.Node {
	t.Helper()
	n := core.NewNode(core.NodeOptions{Logger: zaptest.NewLogger(t), Unroutable: u.handle})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n
}

func TestNodeRoutesThroughForwarder(t *testing.T) {
	u := &unroutable{}
	n := newNode(t, u)

	fwd := &recordingForwarder{}
	p, err := New(core.TCPType, fwd, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, Register(n.Router(), p))

	msg := core.NewMessage(core.Route{core.NewAddress(core.TCPType, "127.0.0.1:4000"), core.Local("printer")}, core.RouteOf("app"), "hello")
	n.Route(msg)

	require.Len(t, fwd.msgs, 1)
	assert.Same(t, msg, fwd.msgs[0])
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/4000"}, fwd.to)
	assert.Empty(t, u.reasons)

	s, ok := n.ConvertAddressToString(core.NewAddress(core.TCPType, "127.0.0.1:4000"))
	require.True(t, ok)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4000", s)
}

func TestForwardFailuresAreUnroutable(t *testing.T) {
	u := &unroutable{}
	n := newNode(t, u)

	boom := errors.New("connection refused")
	udp, err := New(core.UDPType, ForwarderFunc(func(ma.Multiaddr, *core.Message) error { return boom }), nil)
	require.NoError(t, err)
	require.NoError(t, Register(n.Router(), udp))

	tcp, err := New(core.TCPType, nil, nil)
	require.NoError(t, err)
	require.NoError(t, Register(n.Router(), tcp))

	n.Route(core.NewMessage(core.Route{core.NewAddress(core.UDPType, "10.0.0.1:53")}, core.Route{}, nil))
	n.Route(core.NewMessage(core.Route{core.NewAddress(core.UDPType, "nonsense")}, core.Route{}, nil))
	n.Route(core.NewMessage(core.Route{core.NewAddress(core.TCPType, "10.0.0.1:80")}, core.Route{}, nil))

	require.Len(t, u.reasons, 3)
	assert.ErrorIs(t, u.reasons[0], boom)
	assert.ErrorIs(t, u.reasons[1], core.ErrUnconvertibleAddress)
	assert.ErrorIs(t, u.reasons[2], ErrNoForwarder)
}

func TestHandleMessageWithoutRouter(t *testing.T) {
	p, err := New(core.TCPType, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	// Failures are logged when the plugin is not registered on a router
	assert.NotPanics(t, func() {
		p.HandleMessage(core.NewMessage(core.Route{}, core.Route{}, nil))
	})
}
