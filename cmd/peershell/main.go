package main

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/abiosoft/ishell/v2"
	"github.com/edup2p/peerlink/runner"
	"github.com/edup2p/peerlink/transport"
	"github.com/edup2p/peerlink/types"
	"github.com/edup2p/peerlink/types/packet"
	"golang.org/x/exp/maps"
)

var (
	programLevel = new(slog.LevelVar) // Info by default

	rn     *runner.Runner
	cancel context.CancelFunc

	peersMu sync.Mutex
	peers   = make(map[uint32]*transport.Peer)
)

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	slog.SetDefault(slog.New(h))

	shell := ishell.New()

	shell.SetHomeHistoryPath(".peershell_history")

	shell.Println("peerlink Interactive Shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "trace",
		Help: "set log level to trace",
		Func: func(c *ishell.Context) {
			programLevel.Set(types.LevelTrace)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "debug",
		Help: "set log level to debug",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelDebug)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "set log level to info",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelInfo)
		},
	})

	shell.AddCmd(startCmd(shell))
	shell.AddCmd(stopCmd())
	shell.AddCmd(connectCmd())
	shell.AddCmd(pingCmd())
	shell.AddCmd(peersCmd())
	shell.AddCmd(sendCmd())
	shell.AddCmd(disconnectCmd())

	shell.Run()

	stop()
}

var errNotStarted = errors.New("host not started, use 'start'")

func running() (*runner.Runner, error) {
	if rn == nil {
		return nil, errNotStarted
	}

	return rn, nil
}

func startCmd(shell *ishell.Shell) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "start",
		Help: "start a host: start [port] [max peers]",
		Func: func(c *ishell.Context) {
			if rn != nil {
				c.Err(runner.ErrAlreadyStarted)
				return
			}

			var (
				port     uint64
				maxPeers = 16
				err      error
			)

			if len(c.Args) > 0 {
				if port, err = strconv.ParseUint(c.Args[0], 10, 16); err != nil {
					c.Err(err)
					return
				}
			}

			if len(c.Args) > 1 {
				if maxPeers, err = strconv.Atoi(c.Args[1]); err != nil {
					c.Err(err)
					return
				}
			}

			ctx, can := context.WithCancel(context.Background())

			r := runner.New(nil)
			if err := r.Start(ctx, maxPeers, uint16(port), false); err != nil {
				can()
				c.Err(err)
				return
			}

			rn, cancel = r, can

			go watch(shell, r)

			c.Println("started on", r.LocalAddr())
		},
	}
}

// watch prints the events of r until it stops.
func watch(shell *ishell.Shell, r *runner.Runner) {
	for {
		select {
		case <-r.Done():
			return
		case e := <-r.Events():
			peersMu.Lock()
			switch e.Type {
			case transport.EventConnect:
				peers[e.Peer.ID()] = e.Peer
				shell.Printf("[%d] connected: %s\n", e.Peer.ID(), e.Peer.AddrPort())
			case transport.EventData:
				shell.Printf("[%d] %s: %q\n", e.Peer.ID(), e.Packet.Flags(), e.Packet.Bytes())
				e.Packet.Release()
			case transport.EventTimeout, transport.EventDisconnect:
				delete(peers, e.Peer.ID())
				shell.Printf("[%d] %s: %s\n", e.Peer.ID(), e.Type, e.Peer.AddrPort())
			}
			peersMu.Unlock()
		}
	}
}

func stop() {
	if rn == nil {
		return
	}

	rn.Dispose()
	if err := rn.Wait(); err != nil {
		slog.Warn("runner stopped with error", "err", err)
	}
	cancel()

	rn = nil

	peersMu.Lock()
	clear(peers)
	peersMu.Unlock()
}

func stopCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "stop",
		Help: "disconnect every peer and stop the host",
		Func: func(c *ishell.Context) {
			if _, err := running(); err != nil {
				c.Err(err)
				return
			}

			stop()
			c.Println("stopped")
		},
	}
}

func addrCmd(name, help string, mk func(netip.AddrPort) runner.Command) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: help,
		Func: func(c *ishell.Context) {
			r, err := running()
			if err != nil {
				c.Err(err)
				return
			}

			if len(c.Args) != 1 {
				c.Println("usage:", name, "<ip:port>")
				return
			}

			ap, err := netip.ParseAddrPort(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}

			r.Submit(mk(ap))
		},
	}
}

func connectCmd() *ishell.Cmd {
	return addrCmd("connect", "connect to a remote host: connect <ip:port>", runner.Connect)
}

func pingCmd() *ishell.Cmd {
	return addrCmd("ping", "send a hole-punching ping: ping <ip:port>", runner.Ping)
}

func peersCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "peers",
		Help: "list connected peers",
		Func: func(c *ishell.Context) {
			peersMu.Lock()
			defer peersMu.Unlock()

			ids := maps.Keys(peers)
			slices.Sort(ids)

			for _, id := range ids {
				c.Printf("[%d] %s\n", id, peers[id].AddrPort())
			}
		},
	}
}

func lookupPeer(arg string) (*transport.Peer, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return nil, err
	}

	peersMu.Lock()
	defer peersMu.Unlock()

	p, ok := peers[uint32(id)]
	if !ok {
		return nil, errors.New("no such peer")
	}

	return p, nil
}

func parseChannel(s string) (packet.Flag, error) {
	switch s {
	case "r", "reliable":
		return packet.Reliable, nil
	case "s", "sequenced":
		return packet.Sequenced, nil
	case "u", "unreliable":
		return packet.Unreliable, nil
	default:
		return packet.FlagNone, errors.New("channel must be reliable, sequenced or unreliable")
	}
}

func sendCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "send",
		Help: "send text to a peer: send <id> <reliable|sequenced|unreliable> <text>",
		Func: func(c *ishell.Context) {
			r, err := running()
			if err != nil {
				c.Err(err)
				return
			}

			if len(c.Args) < 3 {
				c.Println("usage: send <id> <reliable|sequenced|unreliable> <text>")
				return
			}

			p, err := lookupPeer(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}

			ch, err := parseChannel(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}

			r.Submit(runner.Send(p, packet.FromBytes([]byte(strings.Join(c.Args[2:], " ")), ch)))
		},
	}
}

func disconnectCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "disconnect",
		Help: "disconnect a peer: disconnect <id> [now|later]",
		Func: func(c *ishell.Context) {
			r, err := running()
			if err != nil {
				c.Err(err)
				return
			}

			if len(c.Args) < 1 {
				c.Println("usage: disconnect <id> [now|later]")
				return
			}

			p, err := lookupPeer(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}

			mk := runner.Disconnect
			if len(c.Args) > 1 {
				switch c.Args[1] {
				case "now":
					mk = runner.DisconnectNow
				case "later":
					mk = runner.DisconnectLater
				default:
					c.Println("usage: disconnect <id> [now|later]")
					return
				}
			}

			r.Submit(mk(p))
		},
	}
}
