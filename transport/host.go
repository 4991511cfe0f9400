// Package transport implements connection-oriented peers on top of a single UDP socket.
//
// A Host owns the socket and every Peer. It is driven by one goroutine, calling Service,
// CheckEvents and Flush in a loop; nothing in this package is safe for concurrent use.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"syscall"
	"time"

	"github.com/edup2p/peerlink/types"
	"github.com/edup2p/peerlink/types/packet"
	"github.com/edup2p/peerlink/types/wire"
)

type outgoing struct {
	data []byte
	to   netip.AddrPort
}

type Host struct {
	cfg Config

	newARQ ARQFactory

	conn  types.UDPConn
	local netip.AddrPort

	peers *registry

	// lingering holds force-closed peers whose reliable output has not been emitted yet.
	lingering []*Peer

	recvBuf []byte

	events   queue[Event]
	outbound queue[outgoing]

	lastFlush int64
}

// NewHost prepares a host with cfg, or DefaultConfig if cfg is nil.
// It has no socket until Create or Attach is called.
func NewHost(cfg *Config) *Host {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Host{
		cfg:       cfg.withDefaults(),
		newARQ:    NewKCP,
		lastFlush: -1,
	}
}

// WithARQ replaces the reliable channel implementation of peers created from now on.
func (h *Host) WithARQ(f ARQFactory) *Host {
	h.newARQ = f
	return h
}

func (h *Host) L() *slog.Logger {
	return slog.With("host", h.local)
}

func (h *Host) Config() Config {
	return h.cfg
}

// Create binds a socket on port, and prepares the host for maxPeers peers.
//
// When ipv6 is set, the socket is dual-stack.
func (h *Host) Create(maxPeers int, port uint16, ipv6 bool) error {
	if err := h.checkCreate(maxPeers); err != nil {
		return err
	}

	network := "udp4"
	ip := net.IPv4zero

	if ipv6 {
		network = "udp"
		ip = net.IPv6unspecified
	}

	conn, err := net.ListenUDP(network, &net.UDPAddr{IP: ip, Port: int(port)})
	if err != nil {
		if ipv6 && errors.Is(err, syscall.EAFNOSUPPORT) {
			return fmt.Errorf("%w: %w: %w", ErrCreation, ErrUnsupported, err)
		}

		return fmt.Errorf("%w: %w: %w", ErrCreation, ErrBind, err)
	}

	size := types.Clamp(maxPeers*h.cfg.BufferSize, minSocketBuffer, maxSocketBuffer)

	if err := conn.SetReadBuffer(size); err != nil {
		slog.Debug("could not set socket read buffer", "size", size, "err", err)
	}
	if err := conn.SetWriteBuffer(size); err != nil {
		slog.Debug("could not set socket write buffer", "size", size, "err", err)
	}
	if err := types.SetDontFragment(conn, ipv6); err != nil {
		slog.Debug("could not set don't-fragment", "err", err)
	}

	return h.Attach(conn, maxPeers)
}

// Attach prepares the host for maxPeers peers on a socket created by the caller.
//
// The host takes ownership of conn, and closes it on Dispose.
func (h *Host) Attach(conn types.UDPConn, maxPeers int) error {
	if err := h.checkCreate(maxPeers); err != nil {
		return err
	}

	h.conn = conn
	h.local = types.LocalAddrPort(conn)
	h.peers = newRegistry(maxPeers)
	h.recvBuf = make([]byte, h.cfg.BufferSize)
	h.lastFlush = -1

	h.L().Debug("host created", "max-peers", maxPeers)

	return nil
}

func (h *Host) checkCreate(maxPeers int) error {
	if h.conn != nil {
		return fmt.Errorf("%w: %w", ErrCreation, ErrAlreadyCreated)
	}

	if maxPeers <= 0 || maxPeers > h.cfg.MaxPeers {
		return fmt.Errorf("%w: %w: %d", ErrCreation, ErrInvalidCapacity, maxPeers)
	}

	return nil
}

func (h *Host) IsSet() bool {
	return h.conn != nil
}

func (h *Host) LocalAddr() netip.AddrPort {
	return h.local
}

func (h *Host) PeerCount() int {
	if h.peers == nil {
		return 0
	}

	return h.peers.len()
}

// Peer returns the registered peer with id, or nil.
func (h *Host) Peer(id uint32) *Peer {
	if h.peers == nil {
		return nil
	}

	return h.peers.byID(id)
}

// Peers returns a snapshot of all registered peers.
func (h *Host) Peers() []*Peer {
	if h.peers == nil {
		return nil
	}

	return h.peers.peers()
}

// Connect starts a handshake with ap, or returns the peer already registered under it.
//
// Returns nil if the host is not created, or is at capacity.
func (h *Host) Connect(ap netip.AddrPort) *Peer {
	if !h.IsSet() {
		return nil
	}

	ap = types.NormaliseAddrPort(ap)

	if p := h.peers.lookup(ap); p != nil {
		return p
	}

	if h.peers.full() {
		h.L().Debug("cannot connect, at capacity", "addr", ap)
		return nil
	}

	p := h.register(ap, types.RandByte(), StateConnecting)
	if p == nil {
		return nil
	}

	p.sendControl(wire.HeaderConnect)

	return p
}

// Ping sends a single raw ping datagram to ap, to open a NAT mapping towards it.
func (h *Host) Ping(ap netip.AddrPort) {
	if !h.IsSet() {
		return
	}

	h.writeTo([]byte{byte(wire.HeaderPing)}, types.NormaliseAddrPort(ap))
}

// Service reads pending datagrams, and then services every peer.
func (h *Host) Service() {
	if !h.IsSet() {
		return
	}

	if err := h.conn.SetReadDeadline(time.Now().Add(h.cfg.PollTimeout)); err != nil {
		h.L().Debug("could not set read deadline", "err", err)
	}

	for i := 0; i < h.cfg.MaxReceivePerService; i++ {
		n, src, err := h.conn.ReadFromUDPAddrPort(h.recvBuf)

		if err != nil {
			var e net.Error
			if !(errors.As(err, &e) && e.Timeout()) && !errors.Is(err, net.ErrClosed) {
				h.L().Debug("read failed", "err", err)
			}

			break
		}

		h.cfg.Observer.DatagramReceived(n)
		h.demux(h.recvBuf[:n], types.NormaliseAddrPort(src))
	}

	now := h.cfg.Clock.Now()

	h.peers.each(func(p *Peer) {
		p.service(now)
	})
}

func (h *Host) demux(d []byte, src netip.AddrPort) {
	// A marker can also be a valid unreliable datagram, so it only counts as one for the session it names.
	if session, ok := wire.ParseMarker(d); ok {
		if p := h.peers.lookup(src); p != nil && p.session == session {
			p.L().Debug("forced disconnect from remote")
			p.disconnectInternal()

			return
		}
	}

	payload, ch, err := wire.SplitChannel(d)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownChannel) {
			h.drop(DropUnknownChannel)
		} else {
			h.drop(DropTooSmall)
		}

		return
	}

	p := h.peers.lookup(src)

	if p == nil {
		p = h.accept(payload, ch, src)
		if p == nil {
			return
		}
	}

	switch ch {
	case packet.Reliable:
		p.input(payload)
	case packet.Sequenced:
		p.receiveSequenced(payload)
	case packet.Unreliable:
		p.receiveUnreliable(payload)
	}
}

// accept creates a passive peer if payload is the opening frame of a connection.
func (h *Host) accept(payload []byte, ch wire.Channel, src netip.AddrPort) *Peer {
	if ch != packet.Reliable {
		h.drop(DropUnknownPeer)
		return nil
	}

	session, ok := wire.LooksLikeConnect(payload, h.cfg.Conversation)
	if !ok {
		h.drop(DropUnknownPeer)
		return nil
	}

	if h.peers.full() {
		h.L().Log(context.Background(), types.LevelTrace, "refusing peer, at capacity", "addr", src)
		h.drop(DropCapacity)
		return nil
	}

	return h.register(src, session, StateNone)
}

func (h *Host) register(ap netip.AddrPort, session byte, state State) *Peer {
	p := newPeer(h, ap, session, state)

	if !h.peers.insert(p) {
		p.release()
		return nil
	}

	p.L().Debug("peer registered", "state", state, "session", session)
	h.cfg.Observer.PeersChanged(h.peers.len())

	return p
}

func (h *Host) unregister(p *Peer) {
	if h.peers.remove(p) {
		p.L().Debug("peer unregistered")
		h.cfg.Observer.PeersChanged(h.peers.len())
	}
}

// Flush runs the reliable channel of every peer, once per millisecond,
// and writes every queued datagram to the socket.
func (h *Host) Flush() {
	if !h.IsSet() {
		return
	}

	if now := h.cfg.Clock.Now().UnixMilli(); now != h.lastFlush {
		h.lastFlush = now

		h.peers.each(func(p *Peer) {
			p.update()
		})
	}

	for _, p := range h.lingering {
		p.update()
	}

	h.flushRaw()

	h.settleLingering(false)
}

func (h *Host) linger(p *Peer) {
	h.lingering = append(h.lingering, p)
}

// settleLingering finishes the lingering peers whose output is on the wire, or whose time is up.
// With force set, all of them are finished.
func (h *Host) settleLingering(force bool) {
	if len(h.lingering) == 0 {
		return
	}

	now := h.cfg.Clock.Now()

	h.lingering = slices.DeleteFunc(h.lingering, func(p *Peer) bool {
		if !force && !p.settled() && now.Before(p.lingerUntil) {
			return false
		}

		if !p.settled() {
			p.L().Debug("dropping unsent reliable output", "pending", p.Pending())
		}

		p.finish()

		return true
	})
}

func (h *Host) flushRaw() {
	for {
		o, ok := h.outbound.pop()
		if !ok {
			return
		}

		h.writeTo(o.data, o.to)
	}
}

func (h *Host) writeTo(b []byte, to netip.AddrPort) {
	if h.conn == nil {
		return
	}

	if _, err := h.conn.WriteToUDPAddrPort(b, to); err != nil {
		h.L().Debug("write failed", "to", to, "err", err)
		return
	}

	h.cfg.Observer.DatagramSent(len(b))
}

func (h *Host) queueRaw(to netip.AddrPort, data []byte) {
	h.outbound.push(outgoing{data: data, to: to})
}

func (h *Host) emit(e Event) {
	h.events.push(e)
	h.cfg.Observer.EventQueued(e.Type)
}

func (h *Host) drop(reason DropReason) {
	h.cfg.Observer.DatagramDropped(reason)
}

// CheckEvents pops the oldest queued event.
func (h *Host) CheckEvents() (Event, bool) {
	return h.events.pop()
}

// PendingEvents returns the number of events not yet taken by CheckEvents.
func (h *Host) PendingEvents() int {
	return h.events.len()
}

// Dispose disconnects every peer, discards queued events and datagrams, and closes the socket.
func (h *Host) Dispose() error {
	if h.conn == nil {
		return nil
	}

	h.peers.each(func(p *Peer) {
		p.DisconnectNow()
	})

	for _, p := range h.lingering {
		p.update()
	}

	h.flushRaw()
	h.settleLingering(true)

	for {
		e, ok := h.events.pop()
		if !ok {
			break
		}

		e.Packet.Release()
	}

	h.outbound.clear()

	err := h.conn.Close()
	h.conn = nil

	h.L().Debug("host disposed")

	return err
}
