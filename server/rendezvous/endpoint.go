package rendezvous

import (
	"net/netip"

	"github.com/edup2p/peerlink/types"
	"github.com/edup2p/peerlink/types/bin"
	"go4.org/mem"
)

// EncodeEndpoint returns the wire form of an endpoint, as exchanged with the server.
func EncodeEndpoint(ap netip.AddrPort) []byte {
	return bin.PutAddrPort(types.NormaliseAddrPort(ap))
}

// DecodeEndpoint parses the wire form of an endpoint.
func DecodeEndpoint(r mem.RO) (netip.AddrPort, error) {
	if r.Len() != bin.AddrPortLen {
		return netip.AddrPort{}, ErrBadEndpoint
	}

	var b [bin.AddrPortLen]byte
	r.Copy(b[:])

	return types.NormaliseAddrPort(bin.ParseAddrPort(b)), nil
}
