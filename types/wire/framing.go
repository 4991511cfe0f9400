package wire

import (
	"github.com/edup2p/peerlink/types/bin"
	"github.com/edup2p/peerlink/types/packet"
)

// SplitChannel separates the trailing channel byte from the rest of the datagram.
func SplitChannel(d []byte) (payload []byte, ch Channel, err error) {
	if len(d) < 2 {
		return nil, 0, ErrTooSmall
	}

	ch = Channel(d[len(d)-1])

	switch ch {
	case packet.Reliable, packet.Sequenced, packet.Unreliable:
		return d[:len(d)-1], ch, nil
	default:
		return nil, ch, ErrUnknownChannel
	}
}

// AppendReliable appends a datagram wrapping an ARQ frame.
func AppendReliable(dst, frame []byte) []byte {
	dst = append(dst, frame...)
	return append(dst, byte(packet.Reliable))
}

// AppendSequenced appends a sequenced datagram.
func AppendSequenced(dst []byte, session byte, seq uint16, data []byte) []byte {
	var s [2]byte
	bin.PutUint16(s[:], seq)

	dst = append(dst, session, s[0], s[1])
	dst = append(dst, data...)
	return append(dst, byte(packet.Sequenced))
}

// AppendUnreliable appends an unreliable datagram.
func AppendUnreliable(dst []byte, session byte, data []byte) []byte {
	dst = append(dst, session)
	dst = append(dst, data...)
	return append(dst, byte(packet.Unreliable))
}

// ParseSequenced parses the payload of a sequenced datagram (channel byte already removed).
func ParseSequenced(payload []byte) (session byte, seq uint16, data []byte, err error) {
	if len(payload) < SequencedHeaderLen {
		return 0, 0, nil, ErrTooSmall
	}

	return payload[0], bin.Uint16(payload[1:3]), payload[SequencedHeaderLen:], nil
}

// ParseUnreliable parses the payload of an unreliable datagram (channel byte already removed).
func ParseUnreliable(payload []byte) (session byte, data []byte, err error) {
	if len(payload) < UnreliableHeaderLen {
		return 0, nil, ErrTooSmall
	}

	return payload[0], payload[UnreliableHeaderLen:], nil
}

// Marker returns the forced-disconnect marker for a session.
func Marker(session byte) [MarkerLen]byte {
	return [MarkerLen]byte{byte(HeaderDisconnect), byte(HeaderDisconnectAck), session}
}

// ParseMarker reports whether d is exactly a forced-disconnect marker, and for which session.
func ParseMarker(d []byte) (session byte, ok bool) {
	if len(d) != MarkerLen || Header(d[0]) != HeaderDisconnect || Header(d[1]) != HeaderDisconnectAck {
		return 0, false
	}

	return d[2], true
}

// IsRawPing reports whether d is a raw hole-punching ping.
func IsRawPing(d []byte) bool {
	return len(d) == 1 && Header(d[0]) == HeaderPing
}
