// Package bin contains fixed-width codecs shared by the wire format and its consumers.
package bin

import (
	"encoding/binary"
	"net/netip"
	"slices"
)

// AddrPortLen is the size of an encoded netip.AddrPort: 16 address bytes and a 2-byte port.
const AddrPortLen = 18

// PutUint16 writes v in little-endian order into the first two bytes of b.
func PutUint16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

// Uint16 reads a little-endian uint16 from the first two bytes of b.
func Uint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// PutUint32 writes v in little-endian order into the first four bytes of b.
func PutUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// Uint32 reads a little-endian uint32 from the first four bytes of b.
func Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// ParseAddrPort decodes an 18-byte address, v4-mapped addresses are unmapped.
func ParseAddrPort(b [AddrPortLen]byte) netip.AddrPort {
	addr := netip.AddrFrom16([16]byte(b[:16])).Unmap()

	port := binary.BigEndian.Uint16(b[16:])

	return netip.AddrPortFrom(addr, port)
}

// PutAddrPort encodes ap as 16 address bytes (v4-mapped for IPv4) followed by the port in network order.
func PutAddrPort(ap netip.AddrPort) []byte {
	port := make([]byte, 2)

	as16 := ap.Addr().As16()
	binary.BigEndian.PutUint16(port, ap.Port())

	return slices.Concat(as16[:], port[:])
}
