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

	"github.com/edup2p/peerlink/transport"
	"github.com/edup2p/peerlink/types/packet"
)

var (
	port     = flag.Uint("port", 7777, "port of the listening host")
	interval = flag.Duration("interval", 100*time.Millisecond, "time between rounds")
	rounds   = flag.Int("rounds", 10, "rounds after which the listening host drops the connection")
	verbose  = flag.Bool("v", false, "log at debug level")
)

// echo runs two hosts in one process. The dialing host sends a message every round,
// the listening host answers every round, and force-disconnects after the configured number of rounds.
func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	{
		programLevel := new(slog.LevelVar) // Info by default
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
		slog.SetDefault(slog.New(h))
		if *verbose {
			programLevel.Set(slog.LevelDebug)
		}
	}

	a := transport.NewHost(nil)
	if err := a.Create(100, uint16(*port), false); err != nil {
		log.Fatalf("echo: could not create listening host: %v", err)
	}
	defer a.Dispose()

	b := transport.NewHost(nil)
	if err := b.Create(100, 0, false); err != nil {
		log.Fatalf("echo: could not create dialing host: %v", err)
	}
	defer b.Dispose()

	b.Connect(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(*port)))

	var (
		client, server *transport.Peer
		i, j           int
		finished       bool
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for !finished {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		a.Service()
		b.Service()

		for e, ok := a.CheckEvents(); ok; e, ok = a.CheckEvents() {
			switch e.Type {
			case transport.EventConnect:
				server = e.Peer
				fmt.Println("Server Connect:", e.Peer.ID())
			case transport.EventData:
				fmt.Println("Server Data:", string(e.Packet.Bytes()))
				e.Packet.Release()
			case transport.EventDisconnect:
				fmt.Println("Server Disconnect:", e.Peer.ID())
				server = nil
			case transport.EventTimeout:
				fmt.Println("Server Timeout:", e.Peer.ID())
			}
		}

		for e, ok := b.CheckEvents(); ok; e, ok = b.CheckEvents() {
			switch e.Type {
			case transport.EventConnect:
				client = e.Peer
				fmt.Println("Connect:", e.Peer.ID())
			case transport.EventData:
				fmt.Println("Data:", string(e.Packet.Bytes()))
				e.Packet.Release()
			case transport.EventDisconnect:
				fmt.Println("Disconnect:", e.Peer.ID())
				client = nil
				finished = true
			case transport.EventTimeout:
				fmt.Println("Timeout:", e.Peer.ID())
				finished = true
			}
		}

		if client != nil {
			send(client, fmt.Sprintf("client: %d", i))
			i++
		}

		if server != nil {
			j++
			if j == *rounds {
				server.DisconnectNow()
				server = nil
			} else {
				send(server, fmt.Sprintf("server: %d", j))
			}
		}

		a.Flush()
		b.Flush()
	}
}

func send(p *transport.Peer, msg string) {
	pkt := packet.FromBytes([]byte(msg), packet.Reliable)
	defer pkt.Release()

	if err := p.Send(pkt); err != nil {
		slog.Debug("send failed", "peer", p.ID(), "err", err)
	}
}
