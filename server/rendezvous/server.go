// Package rendezvous implements a NAT introduction service on top of a runner.
//
// Clients connect, and send the 18-byte endpoint of another connected client as a request.
// Depending on the Mode, the server either introduces the requester to that client, or answers with its endpoint.
package rendezvous

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/edup2p/peerlink/runner"
	"github.com/edup2p/peerlink/transport"
	"github.com/edup2p/peerlink/types/packet"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
)

type Server struct {
	cfg Config

	r       *runner.Runner
	rlStore limiter.Store

	mu    sync.RWMutex
	peers map[netip.AddrPort]*transport.Peer

	ctx    context.Context
	ctxCan context.CancelFunc

	done chan struct{}
}

func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Mode != ModeIntroduce && cfg.Mode != ModeLookup {
		return nil, ErrBadMode
	}

	store, err := memorystore.New(&memorystore.Config{
		// Number of requests allowed per interval.
		Tokens: cfg.RateTokens,

		// Interval until tokens reset.
		Interval: cfg.RateInterval,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     *cfg,
		r:       runner.New(cfg.Runner),
		rlStore: store,
		peers:   make(map[netip.AddrPort]*transport.Peer),
		done:    make(chan struct{}),
	}, nil
}

func (s *Server) L() *slog.Logger {
	return slog.With("rendezvous", s.cfg.Mode, "addr", s.r.LocalAddr())
}

// Start binds the socket and starts serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.ctxCan = context.WithCancel(ctx)

	if err := s.r.Start(s.ctx, s.cfg.MaxPeers, s.cfg.Port, s.cfg.IPv6); err != nil {
		s.ctxCan()
		return err
	}

	s.L().Info("rendezvous server started", "max-peers", s.cfg.MaxPeers)

	go s.serve()

	return nil
}

func (s *Server) LocalAddr() netip.AddrPort {
	return s.r.LocalAddr()
}

// Peers returns the endpoints of all connected clients, sorted.
func (s *Server) Peers() []netip.AddrPort {
	s.mu.RLock()
	aps := maps.Keys(s.peers)
	s.mu.RUnlock()

	slices.SortFunc(aps, netip.AddrPort.Compare)

	return aps
}

func (s *Server) serve() {
	defer close(s.done)

	for {
		select {
		case <-s.r.Done():
			return
		case e := <-s.r.Events():
			s.handle(e)
		}
	}
}

func (s *Server) handle(e transport.Event) {
	switch e.Type {
	case transport.EventConnect:
		s.onConnect(e.Peer)
	case transport.EventData:
		s.onRequest(e.Peer, e.Packet)
		e.Packet.Release()
	case transport.EventTimeout, transport.EventDisconnect:
		s.mu.Lock()
		if s.peers[e.Peer.AddrPort()] == e.Peer {
			delete(s.peers, e.Peer.AddrPort())
		}
		s.mu.Unlock()

		s.L().Info("client left", "peer", e.Peer.ID(), "addr", e.Peer.AddrPort(), "event", e.Type)
	}
}

func (s *Server) onConnect(p *transport.Peer) {
	ap := p.AddrPort()

	if s.cfg.Allow != nil && !s.cfg.Allow.Contains(ap.Addr()) {
		s.L().Info("refusing client, not allowed", "addr", ap)
		s.r.Submit(runner.DisconnectNow(p))
		return
	}

	s.mu.Lock()
	s.peers[ap] = p
	s.mu.Unlock()

	s.L().Info("client joined", "peer", p.ID(), "addr", ap)

	if s.cfg.Mode == ModeIntroduce {
		s.r.Submit(runner.Send(p, packet.FromBytes(EncodeEndpoint(ap), packet.Reliable)))
	}
}

func (s *Server) onRequest(from *transport.Peer, pkt *packet.Packet) {
	target, err := DecodeEndpoint(pkt.RO())
	if err != nil {
		s.L().Debug("dropping malformed request", "addr", from.AddrPort(), "len", pkt.Len())
		return
	}

	_, _, _, ok, err := s.rlStore.Take(s.ctx, from.AddrPort().String())
	if err != nil {
		s.L().Warn("rate limiter failed", "err", err)
		return
	} else if !ok {
		s.L().Debug("dropping request, rate limited", "addr", from.AddrPort())
		return
	}

	s.mu.RLock()
	to, found := s.peers[target]
	s.mu.RUnlock()

	if !found || to == from {
		s.L().Debug("dropping request, unknown target", "addr", from.AddrPort(), "target", target)
		return
	}

	switch s.cfg.Mode {
	case ModeIntroduce:
		s.L().Debug("introducing", "from", from.AddrPort(), "to", target)
		s.r.Submit(runner.Send(to, packet.FromBytes(EncodeEndpoint(from.AddrPort()), packet.Reliable)))
	case ModeLookup:
		s.L().Debug("answering lookup", "from", from.AddrPort(), "target", target)
		s.r.Submit(runner.Send(from, packet.FromBytes(EncodeEndpoint(target), packet.Reliable)))
	}
}

// Close disconnects every client and stops the server.
func (s *Server) Close() error {
	var err error

	if s.ctxCan != nil {
		s.r.Dispose()
		err = s.r.Wait()

		<-s.done
		s.ctxCan()
	}

	return multierr.Append(err, s.rlStore.Close(context.Background()))
}
