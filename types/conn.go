package types

import (
	"net"
	"net/netip"
	"time"
)

// UDPConn interface for transport.Host to more easily deal with.
//
// *net.UDPConn satisfies it.
type UDPConn interface {
	SetReadDeadline(t time.Time) error

	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)

	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)

	Close() error
}

type UDPConnCloseCatcher struct {
	UDPConn

	Closed bool
}

func (c *UDPConnCloseCatcher) Close() error {
	c.Closed = true

	return c.UDPConn.Close()
}

// LocalAddrPort returns the bound address of conn, if it exposes one.
func LocalAddrPort(conn UDPConn) netip.AddrPort {
	type localAddrer interface {
		LocalAddr() net.Addr
	}

	la, ok := conn.(localAddrer)
	if !ok || la.LocalAddr() == nil {
		return netip.AddrPort{}
	}

	ap, err := netip.ParseAddrPort(la.LocalAddr().String())
	if err != nil {
		return netip.AddrPort{}
	}

	return NormaliseAddrPort(ap)
}
