// Package wire contains the datagram layout shared by every peerlink host.
//
// Every datagram carries a trailing channel byte, except the forced-disconnect marker and the raw ping:
//
//	Reliable:   [ARQ frame][header (+ data)][0x08]
//	Sequenced:  [session][sequence LE u16][data][0x04]
//	Unreliable: [session][data][0x02]
//	Marker:     [Disconnect][DisconnectAck][session]
//	Raw ping:   [Ping]
package wire

import (
	"fmt"

	"github.com/edup2p/peerlink/types/packet"
)

// Header is the first byte of every message carried on the reliable channel.
type Header byte

const (
	HeaderPing             Header = 1 << 0
	HeaderConnect          Header = 1 << 1
	HeaderConnectAck       Header = 1 << 2
	HeaderConnectEstablish Header = 1 << 3
	HeaderData             Header = 1 << 4
	HeaderDisconnect       Header = 1 << 5
	HeaderDisconnectAck    Header = 1 << 6
)

// Valid reports whether h is one of the defined headers.
func (h Header) Valid() bool {
	return h != 0 && h <= HeaderDisconnectAck && h&(h-1) == 0
}

func (h Header) String() string {
	switch h {
	case HeaderPing:
		return "ping"
	case HeaderConnect:
		return "connect"
	case HeaderConnectAck:
		return "connect-ack"
	case HeaderConnectEstablish:
		return "connect-establish"
	case HeaderData:
		return "data"
	case HeaderDisconnect:
		return "disconnect"
	case HeaderDisconnectAck:
		return "disconnect-ack"
	default:
		return fmt.Sprintf("header(%#x)", byte(h))
	}
}

const (
	// ARQOverhead is the size of a KCP segment header.
	ARQOverhead = 24

	// ConnectDatagramLen is the length of the datagram that opens a passive connection:
	// one ARQ segment carrying only HeaderConnect, plus the channel byte.
	ConnectDatagramLen = ARQOverhead + 1 + 1

	// MarkerLen is the length of the forced-disconnect marker.
	MarkerLen = 3

	SequencedHeaderLen  = 1 + 2
	UnreliableHeaderLen = 1

	// ChannelLen is the size of the trailing channel byte.
	ChannelLen = 1

	// kcpCmdPush is the KCP command of a data-bearing segment.
	kcpCmdPush = 81
)

// Channel is the trailing byte of a datagram, using the packet.Flag channel values.
type Channel = packet.Flag
