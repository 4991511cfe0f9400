package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/edup2p/peerlink/types"
	"github.com/edup2p/peerlink/types/packet"
	"github.com/edup2p/peerlink/types/wire"
)

// Peer is one remote endpoint of a Host.
//
// Like the Host it belongs to, a Peer must only be used from the goroutine driving that Host.
type Peer struct {
	host *Host

	h  handle
	id uint32

	addr    netip.AddrPort
	session byte
	conv    uint32

	arq   ARQ
	state State

	// closing is set once the remote asked to disconnect and the acknowledgement is queued.
	closing bool
	// lingering is set while an unregistered peer still has reliable output to put on the wire.
	lingering   bool
	lingerUntil time.Time
	// flushed is set when the reliable channel produced output after closing or lingering was set.
	flushed bool

	sendSeq     uint16
	lastRecvSeq uint16

	lastSend time.Time
	lastRecv time.Time

	recvBuf []byte
	ctrlBuf [1]byte
}

func newPeer(h *Host, ap netip.AddrPort, session byte, state State) *Peer {
	now := h.cfg.Clock.Now()

	p := &Peer{
		host:        h,
		addr:        ap,
		session:     session,
		conv:        wire.Conv(h.cfg.Conversation, session),
		state:       state,
		lastRecvSeq: wire.SequenceInit,
		lastSend:    now,
		lastRecv:    now,
		recvBuf:     make([]byte, h.cfg.BufferSize),
	}

	p.arq = h.newARQ(p.conv, &h.cfg, p.output)

	return p
}

func (p *Peer) L() *slog.Logger {
	return slog.With("peer", p.id, "addr", p.addr)
}

func (p *Peer) ID() uint32 {
	return p.id
}

func (p *Peer) AddrPort() netip.AddrPort {
	return p.addr
}

func (p *Peer) Session() byte {
	return p.session
}

func (p *Peer) State() State {
	return p.state
}

// IsSet reports whether the peer still holds its reliable channel.
func (p *Peer) IsSet() bool {
	return p != nil && p.arq != nil
}

// Send sends a packet on the channel its flags select. The caller keeps ownership of pkt.
func (p *Peer) Send(pkt *packet.Packet) error {
	flags := pkt.Flags()
	if !flags.ValidChannel() {
		return ErrInvalidFlags
	}

	if p.state != StateConnected {
		return ErrNotConnected
	}

	data := pkt.Bytes()

	switch flags.Channel() {
	case packet.Reliable:
		if 1+len(data) > p.host.cfg.BufferSize {
			return ErrTooLarge
		}

		msg := make([]byte, 0, 1+len(data))
		msg = append(msg, byte(wire.HeaderData))
		msg = append(msg, data...)

		return p.arq.Send(msg)
	case packet.Sequenced:
		if wire.SequencedHeaderLen+len(data)+wire.ChannelLen > p.host.cfg.BufferSize {
			return ErrTooLarge
		}

		d := wire.AppendSequenced(make([]byte, 0, wire.SequencedHeaderLen+len(data)+wire.ChannelLen), p.session, p.sendSeq, data)
		p.sendSeq++

		p.host.queueRaw(p.addr, d)
	case packet.Unreliable:
		if wire.UnreliableHeaderLen+len(data)+wire.ChannelLen > p.host.cfg.BufferSize {
			return ErrTooLarge
		}

		d := wire.AppendUnreliable(make([]byte, 0, wire.UnreliableHeaderLen+len(data)+wire.ChannelLen), p.session, data)

		p.host.queueRaw(p.addr, d)
	}

	return nil
}

// Disconnect starts a graceful disconnect when connected.
// A peer that has not finished its handshake is closed immediately, without an event.
func (p *Peer) Disconnect() {
	switch p.state {
	case StateConnected:
		p.state = StateDisconnecting
		p.sendControl(wire.HeaderDisconnect)
	case StateDisconnecting, StateDisconnected:
		return
	default:
		p.forceClose()
	}
}

// DisconnectLater starts a graceful disconnect, only if connected.
func (p *Peer) DisconnectLater() {
	if p.state != StateConnected {
		return
	}

	p.state = StateDisconnecting
	p.sendControl(wire.HeaderDisconnect)
}

// DisconnectNow unregisters the peer before returning, from any state but Disconnected.
// Reliable messages still queued for the peer are put on the wire first,
// followed by a marker telling the remote to drop the connection.
//
// A Disconnect event is emitted if the peer was connected, or was disconnecting.
func (p *Peer) DisconnectNow() {
	if p.state == StateDisconnected && !p.closing {
		return
	}

	notify := p.state == StateConnected || p.state == StateDisconnecting || p.closing

	p.forceClose()

	if notify {
		p.host.emit(Event{Type: EventDisconnect, Peer: p})
	}
}

// forceClose unregisters the peer, and sends the marker once the reliable channel has emitted what was queued.
//
// The reliable channel may hold its output until its next interval; the peer then lingers on the host
// until a later Flush gets it out.
func (p *Peer) forceClose() {
	p.host.unregister(p)

	p.state = StateDisconnected
	p.closing = false
	p.lingering = true
	p.flushed = false
	p.lingerUntil = p.host.cfg.Clock.Now().Add(p.host.cfg.PingInterval)

	p.update()

	if p.settled() {
		p.host.flushRaw()
		p.finish()
		return
	}

	p.L().Log(context.Background(), types.LevelTrace, "lingering for reliable output", "pending", p.Pending())
	p.host.linger(p)
}

// settled reports whether a lingering peer has nothing left to put on the wire.
func (p *Peer) settled() bool {
	return p.flushed || p.Pending() == 0
}

// finish releases the reliable channel of a force-closed peer and writes the marker.
func (p *Peer) finish() {
	p.lingering = false
	p.release()

	m := wire.Marker(p.session)
	p.host.writeTo(m[:], p.addr)
}

// disconnectInternal handles a forced disconnect from the remote.
func (p *Peer) disconnectInternal() {
	if p.state == StateDisconnected && !p.closing {
		return
	}

	// Reliable messages that arrived ahead of the marker are still delivered.
	if !p.closing {
		p.drain()

		if p.arq == nil {
			return
		}
	}

	if p.state == StateConnected || p.state == StateDisconnecting || p.closing {
		p.host.emit(Event{Type: EventDisconnect, Peer: p})
	}

	p.teardown()
}

// output is called by the ARQ for every frame it emits.
func (p *Peer) output(frame []byte) {
	p.lastSend = p.host.cfg.Clock.Now()

	if p.closing || p.lingering {
		p.flushed = true
	}

	p.host.queueRaw(p.addr, wire.AppendReliable(make([]byte, 0, len(frame)+wire.ChannelLen), frame))
}

func (p *Peer) sendControl(h wire.Header) {
	p.ctrlBuf[0] = byte(h)

	if err := p.arq.Send(p.ctrlBuf[:]); err != nil {
		p.L().Debug("could not queue control message", "header", h, "err", err)
	}
}

func (p *Peer) input(frame []byte) {
	if p.arq == nil {
		return
	}

	if conv, ok := wire.FrameConv(frame); !ok || conv != p.conv {
		p.host.drop(DropSession)
		return
	}

	p.lastRecv = p.host.cfg.Clock.Now()

	if err := p.arq.Input(frame); err != nil {
		p.L().Log(context.Background(), types.LevelTrace, "dropped reliable frame", "err", err)
		p.host.drop(DropARQ)
	}
}

func (p *Peer) deliverable() bool {
	return p.state == StateConnected || p.state == StateDisconnecting
}

func (p *Peer) receiveSequenced(payload []byte) {
	session, seq, data, err := wire.ParseSequenced(payload)
	if err != nil {
		p.host.drop(DropTooSmall)
		return
	}

	if session != p.session {
		p.host.drop(DropSession)
		return
	}

	if !p.deliverable() {
		p.host.drop(DropState)
		return
	}

	if !wire.SequenceNewer(seq, p.lastRecvSeq) {
		p.host.drop(DropStale)
		return
	}

	p.lastRecvSeq = seq

	p.host.emit(Event{Type: EventData, Peer: p, Packet: packet.FromBytes(data, packet.Sequenced)})
}

func (p *Peer) receiveUnreliable(payload []byte) {
	session, data, err := wire.ParseUnreliable(payload)
	if err != nil {
		p.host.drop(DropTooSmall)
		return
	}

	if session != p.session {
		p.host.drop(DropSession)
		return
	}

	if !p.deliverable() {
		p.host.drop(DropState)
		return
	}

	p.host.emit(Event{Type: EventData, Peer: p, Packet: packet.FromBytes(data, packet.Unreliable)})
}

// service drains the reliable channel, and runs the state machine, keepalive and timeout.
func (p *Peer) service(now time.Time) {
	if p.arq == nil {
		return
	}

	if p.closing && p.flushed {
		p.L().Debug("remote disconnect acknowledged")
		p.host.emit(Event{Type: EventDisconnect, Peer: p})
		p.teardown()
		return
	}

	if now.Sub(p.lastRecv) >= p.host.cfg.ReceiveTimeout {
		p.timeout()
		return
	}

	if p.closing {
		return
	}

	if !p.drain() {
		return
	}

	if p.state == StateConnected && now.Sub(p.lastSend) >= p.host.cfg.PingInterval {
		p.lastSend = now
		p.sendControl(wire.HeaderPing)
	}
}

// drain hands every complete reliable message to handle, returning false when the peer must not be serviced further.
func (p *Peer) drain() bool {
	for {
		n, err := p.arq.Receive(p.recvBuf)
		if errors.Is(err, ErrWouldBlock) {
			return true
		} else if err != nil {
			p.L().Debug("reliable channel failed", "err", err)
			p.violation()
			return false
		}

		if n == 0 || !p.handle(p.recvBuf[:n]) {
			return false
		}
	}
}

// handle processes one reliable message, returning false when the peer must not be serviced further.
func (p *Peer) handle(msg []byte) bool {
	h := wire.Header(msg[0])

	switch {
	case h == wire.HeaderPing && p.deliverable():
		return true

	case h == wire.HeaderConnect && p.state == StateNone:
		p.state = StateConnectAcknowledging
		p.sendControl(wire.HeaderConnectAck)
		return true

	case h == wire.HeaderConnectAck && p.state == StateConnecting:
		p.state = StateConnected
		p.host.emit(Event{Type: EventConnect, Peer: p})
		p.sendControl(wire.HeaderConnectEstablish)
		return true

	case h == wire.HeaderConnectEstablish && p.state == StateConnectAcknowledging:
		p.state = StateConnected
		p.host.emit(Event{Type: EventConnect, Peer: p})
		return true

	case h == wire.HeaderData && p.deliverable():
		p.host.emit(Event{Type: EventData, Peer: p, Packet: packet.FromBytes(msg[1:], packet.Reliable)})
		return true

	case h == wire.HeaderDisconnect && p.state == StateConnected:
		p.state = StateDisconnected
		p.closing = true
		p.flushed = false
		p.sendControl(wire.HeaderDisconnectAck)
		return false

	case h == wire.HeaderDisconnectAck && p.state == StateDisconnecting:
		p.host.emit(Event{Type: EventDisconnect, Peer: p})
		p.teardown()
		return false
	}

	p.L().Debug("protocol violation", "header", h, "state", p.state)
	p.violation()

	return false
}

func (p *Peer) violation() {
	switch p.state {
	case StateConnected, StateDisconnecting:
		p.host.emit(Event{Type: EventDisconnect, Peer: p})
	case StateConnecting:
		p.host.emit(Event{Type: EventTimeout, Peer: p})
	}

	p.teardown()
}

func (p *Peer) timeout() {
	p.L().Debug("receive timeout", "state", p.state)

	if p.state == StateConnected || p.state == StateDisconnecting || p.closing {
		p.host.emit(Event{Type: EventDisconnect, Peer: p})
	} else {
		p.host.emit(Event{Type: EventTimeout, Peer: p})
	}

	p.teardown()
}

func (p *Peer) teardown() {
	p.release()
	p.host.unregister(p)
}

func (p *Peer) release() {
	p.state = StateDisconnected
	p.closing = false

	if p.arq != nil {
		p.arq.Release()
		p.arq = nil
	}
}

// update runs the reliable channel's timers, emitting due frames into the host's raw queue.
func (p *Peer) update() {
	if p.arq != nil {
		p.arq.Update()
	}
}

// Pending returns the number of reliable messages not yet acknowledged by the remote.
func (p *Peer) Pending() int {
	if p.arq == nil {
		return 0
	}

	return p.arq.Pending()
}
