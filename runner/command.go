package runner

import (
	"fmt"
	"net/netip"

	"github.com/edup2p/peerlink/transport"
	"github.com/edup2p/peerlink/types/packet"
)

type CommandType byte

const (
	CommandConnect CommandType = iota + 1
	CommandPing
	CommandSend
	CommandDisconnect
	CommandDisconnectNow
	CommandDisconnectLater
)

func (t CommandType) String() string {
	switch t {
	case CommandConnect:
		return "connect"
	case CommandPing:
		return "ping"
	case CommandSend:
		return "send"
	case CommandDisconnect:
		return "disconnect"
	case CommandDisconnectNow:
		return "disconnect-now"
	case CommandDisconnectLater:
		return "disconnect-later"
	default:
		return fmt.Sprintf("command(%d)", byte(t))
	}
}

// Command is an instruction for the poller goroutine.
//
// Addr is used by connect and ping, Peer by the others. A Send command passes ownership of Packet to the runner.
type Command struct {
	Type CommandType

	Addr netip.AddrPort
	Peer *transport.Peer

	Packet *packet.Packet
}

func Connect(ap netip.AddrPort) Command {
	return Command{Type: CommandConnect, Addr: ap}
}

func Ping(ap netip.AddrPort) Command {
	return Command{Type: CommandPing, Addr: ap}
}

func Send(p *transport.Peer, pkt *packet.Packet) Command {
	return Command{Type: CommandSend, Peer: p, Packet: pkt}
}

func Disconnect(p *transport.Peer) Command {
	return Command{Type: CommandDisconnect, Peer: p}
}

func DisconnectNow(p *transport.Peer) Command {
	return Command{Type: CommandDisconnectNow, Peer: p}
}

func DisconnectLater(p *transport.Peer) Command {
	return Command{Type: CommandDisconnectLater, Peer: p}
}
