package wire

import "github.com/edup2p/peerlink/types/bin"

// The ARQ conversation id carries the session in its lowest byte,
// so that stale frames of an earlier connection from the same address are rejected.

const sessionMask uint32 = 0xFF

// Conv returns the conversation id for a session under base.
func Conv(base uint32, session byte) uint32 {
	return base&^sessionMask | uint32(session)
}

// SessionOf extracts the session from a conversation id.
func SessionOf(conv uint32) byte {
	return byte(conv & sessionMask)
}

// SameBase reports whether conv was derived from base.
func SameBase(base, conv uint32) bool {
	return base&^sessionMask == conv&^sessionMask
}

// FrameConv reads the conversation id of an ARQ frame.
func FrameConv(frame []byte) (uint32, bool) {
	if len(frame) < ARQOverhead {
		return 0, false
	}

	return bin.Uint32(frame), true
}

// LooksLikeConnect reports whether frame is a lone ARQ segment carrying HeaderConnect under base,
// returning the session it announces.
//
// Only such frames may open a connection from an unknown address.
func LooksLikeConnect(frame []byte, base uint32) (session byte, ok bool) {
	if len(frame) != ARQOverhead+1 {
		return 0, false
	}

	conv, _ := FrameConv(frame)
	if !SameBase(base, conv) {
		return 0, false
	}

	if frame[4] != kcpCmdPush || Header(frame[ARQOverhead]) != HeaderConnect {
		return 0, false
	}

	return SessionOf(conv), true
}
