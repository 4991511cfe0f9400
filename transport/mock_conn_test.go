package transport

import (
	"net"
	"net/netip"
	"os"
	"slices"
	"time"
)

type mockDatagram struct {
	data []byte
	addr netip.AddrPort
}

// mockNetwork connects mockConns by address. Delivery is immediate.
type mockNetwork struct {
	conns map[netip.AddrPort]*mockConn
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{conns: make(map[netip.AddrPort]*mockConn)}
}

func (n *mockNetwork) conn(ap netip.AddrPort) *mockConn {
	c := &mockConn{local: ap, net: n}
	n.conns[ap] = c
	return c
}

type mockConn struct {
	local netip.AddrPort
	net   *mockNetwork

	in     []mockDatagram
	writes []mockDatagram

	closed bool
}

func (c *mockConn) SetReadDeadline(time.Time) error {
	return nil
}

func (c *mockConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	if c.closed {
		return 0, netip.AddrPort{}, net.ErrClosed
	}

	if len(c.in) == 0 {
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}

	d := c.in[0]
	c.in = c.in[1:]

	return copy(b, d.data), d.addr, nil
}

func (c *mockConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}

	d := mockDatagram{data: slices.Clone(b), addr: addr}
	c.writes = append(c.writes, d)

	if c.net != nil {
		if to, ok := c.net.conns[addr]; ok && !to.closed {
			to.in = append(to.in, mockDatagram{data: d.data, addr: c.local})
		}
	}

	return len(b), nil
}

func (c *mockConn) Close() error {
	c.closed = true
	return nil
}

func (c *mockConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(c.local)
}

// inject queues a datagram as if it was sent by from.
func (c *mockConn) inject(from netip.AddrPort, data []byte) {
	c.in = append(c.in, mockDatagram{data: slices.Clone(data), addr: from})
}
