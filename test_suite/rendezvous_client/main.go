package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edup2p/peerlink/runner"
	"github.com/edup2p/peerlink/server/rendezvous"
	"github.com/edup2p/peerlink/transport"
	"github.com/edup2p/peerlink/types/packet"
)

var (
	serverAddr = flag.String("server", "127.0.0.1:7777", "rendezvous server address")
	target     = flag.String("target", "", "endpoint to request from the server, if any")
	port       = flag.Uint("port", 0, "local UDP port")
	lookup     = flag.Bool("lookup", false, "the server runs in lookup mode, and does not announce public endpoints")
	duration   = flag.Duration("duration", 30*time.Second, "how long to run before exiting")
)

// rendezvous_client connects to a rendezvous server, optionally asks it about a target,
// and connects directly to every endpoint the server hands it, apart from its own.
func main() {
	flag.Parse()

	{
		programLevel := new(slog.LevelVar) // Info by default
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
		slog.SetDefault(slog.New(h))
		programLevel.Set(slog.LevelDebug)
	}

	server, err := netip.ParseAddrPort(*serverAddr)
	if err != nil {
		log.Fatalf("invalid server address: %v", err)
	}

	var want netip.AddrPort
	if *target != "" {
		if want, err = netip.ParseAddrPort(*target); err != nil {
			log.Fatalf("invalid target: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, *duration)
	defer cancelTimeout()

	r := runner.New(nil)
	if err := r.Start(ctx, 16, uint16(*port), false); err != nil {
		log.Fatalf("could not start: %v", err)
	}

	r.Submit(runner.Connect(server))

	var (
		self       netip.AddrPort
		serverPeer *transport.Peer
	)

	for {
		select {
		case <-r.Done():
			if err := r.Wait(); err != nil {
				slog.Info("stopped", "err", err)
			}
			return
		case e := <-r.Events():
			switch e.Type {
			case transport.EventConnect:
				if e.Peer.AddrPort() == server {
					serverPeer = e.Peer
					slog.Info("connected to server", "server", server)

					if want.IsValid() {
						r.Submit(runner.Send(serverPeer, packet.FromBytes(rendezvous.EncodeEndpoint(want), packet.Reliable)))
					}

					continue
				}

				slog.Info("connected to peer", "peer", e.Peer.AddrPort())
				r.Submit(runner.Send(e.Peer, packet.FromBytes([]byte(fmt.Sprintf("hello from %s", self)), packet.Reliable)))
			case transport.EventData:
				if e.Peer != serverPeer {
					slog.Info("data from peer", "peer", e.Peer.AddrPort(), "data", string(e.Packet.Bytes()))
					e.Packet.Release()
					continue
				}

				ap, err := rendezvous.DecodeEndpoint(e.Packet.RO())
				e.Packet.Release()

				if err != nil {
					slog.Warn("malformed message from server", "err", err)
					continue
				}

				if !*lookup && !self.IsValid() {
					self = ap
					slog.Info("public endpoint", "endpoint", self)
					continue
				}

				if ap == self {
					continue
				}

				slog.Info("introduced", "endpoint", ap)
				r.Submit(runner.Ping(ap))
				r.Submit(runner.Connect(ap))
			case transport.EventTimeout, transport.EventDisconnect:
				slog.Info("peer left", "peer", e.Peer.AddrPort(), "event", e.Type)

				if e.Peer == serverPeer {
					r.Dispose()
				}
			}
		}
	}
}
