// Package runner drives a transport.Host from a single goroutine.
//
// Applications talk to the host through two channels: commands go in, events come out.
// Peers handed out in events may be referred to in commands, but their methods must not be called directly.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edup2p/peerlink/transport"
	"github.com/edup2p/peerlink/types"
	"go.uber.org/multierr"
)

var (
	ErrAlreadyStarted = errors.New("runner already started")
	ErrDisposed       = errors.New("runner disposed")
)

type Config struct {
	// Transport configures the host; DefaultConfig is used when nil.
	Transport *transport.Config

	TickInterval  time.Duration
	CommandBuffer int
	EventBuffer   int

	Clock clock.Clock
}

func DefaultConfig() *Config {
	return &Config{
		TickInterval:  transport.DefaultTickInterval,
		CommandBuffer: 1024,
		EventBuffer:   transport.MaxPeersLimit,
		Clock:         clock.New(),
	}
}

type Runner struct {
	cfg Config

	host *transport.Host

	commands chan Command
	events   chan transport.Event

	// backlog holds events the events channel had no room for.
	backlog []transport.Event

	started   RunCheck
	servicing RunCheck
	disposed  atomic.Bool

	local netip.AddrPort
	peers atomic.Int32

	done chan struct{}
	err  error
}

func New(cfg *Config) *Runner {
	d := DefaultConfig()

	if cfg == nil {
		cfg = d
	}

	c := *cfg
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = d.CommandBuffer
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}

	return &Runner{
		cfg:       c,
		host:      transport.NewHost(c.Transport),
		commands:  make(chan Command, c.CommandBuffer),
		events:    make(chan transport.Event, c.EventBuffer),
		started:   MakeRunCheck(),
		servicing: MakeRunCheck(),
		done:      make(chan struct{}),
	}
}

func (r *Runner) L() *slog.Logger {
	return slog.With("runner", r.local)
}

// Start creates the host socket and starts the poller.
func (r *Runner) Start(ctx context.Context, maxPeers int, port uint16, ipv6 bool) error {
	if r.disposed.Load() {
		return ErrDisposed
	}

	if !r.started.CheckOrMark() {
		return ErrAlreadyStarted
	}

	if err := r.host.Create(maxPeers, port, ipv6); err != nil {
		r.started.Unmark()
		return err
	}

	r.launch(ctx)

	return nil
}

// StartWith is Start over a socket created by the caller.
func (r *Runner) StartWith(ctx context.Context, conn types.UDPConn, maxPeers int) error {
	if r.disposed.Load() {
		return ErrDisposed
	}

	if !r.started.CheckOrMark() {
		return ErrAlreadyStarted
	}

	if err := r.host.Attach(conn, maxPeers); err != nil {
		r.started.Unmark()
		return err
	}

	r.launch(ctx)

	return nil
}

func (r *Runner) launch(ctx context.Context) {
	r.local = r.host.LocalAddr()

	go r.run(ctx)
}

func (r *Runner) LocalAddr() netip.AddrPort {
	return r.local
}

// PeerCount returns the number of registered peers as of the last tick.
func (r *Runner) PeerCount() int {
	return int(r.peers.Load())
}

func (r *Runner) Commands() chan<- Command {
	return r.commands
}

func (r *Runner) Events() <-chan transport.Event {
	return r.events
}

// Submit queues a command, returning false if the runner has stopped.
//
// The packet of a command that could not be queued is released.
func (r *Runner) Submit(c Command) bool {
	if r.disposed.Load() {
		c.Packet.Release()
		return false
	}

	select {
	case <-r.done:
		c.Packet.Release()
		return false
	default:
	}

	select {
	case r.commands <- c:
		return true
	case <-r.done:
		c.Packet.Release()
		return false
	}
}

// Service hands every event currently available to handler.
//
// Only one caller services at a time; a concurrent call returns immediately.
func (r *Runner) Service(handler func(transport.Event)) {
	if !r.servicing.CheckOrMark() {
		return
	}
	defer r.servicing.Unmark()

	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				return
			}

			handler(e)
		default:
			return
		}
	}
}

// Dispose asks the poller to disconnect every peer and stop. It is safe to call from any goroutine, any number of times.
func (r *Runner) Dispose() {
	r.disposed.Store(true)
}

// Done is closed once the poller has stopped.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the poller has stopped, and returns the errors it stopped with.
func (r *Runner) Wait() error {
	<-r.done
	return r.err
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	defer func() {
		if v := recover(); v != nil {
			r.L().Error("poller panicked", "err", v)
			r.err = multierr.Append(r.err, r.host.Dispose())
			r.releaseAll()
		}
	}()

	ticker := r.cfg.Clock.Ticker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.L().Debug("poller started")

	for {
		if r.disposed.Load() {
			r.shutdown(nil)
			return
		}

		r.host.Service()
		r.forward()
		r.execute()
		r.host.Flush()

		r.peers.Store(int32(r.host.PeerCount()))

		select {
		case <-ctx.Done():
			r.shutdown(ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// forward moves host events into the events channel, without blocking.
func (r *Runner) forward() {
	for {
		e, ok := r.host.CheckEvents()
		if !ok {
			break
		}

		r.backlog = append(r.backlog, e)
	}

	n := 0

loop:
	for _, e := range r.backlog {
		select {
		case r.events <- e:
			n++
		default:
			break loop
		}
	}

	r.backlog = append(r.backlog[:0], r.backlog[n:]...)
}

// execute runs the commands queued since the last tick.
func (r *Runner) execute() {
	for {
		select {
		case c := <-r.commands:
			r.exec(c)
		default:
			return
		}
	}
}

func (r *Runner) exec(c Command) {
	switch c.Type {
	case CommandConnect:
		if r.host.Connect(c.Addr) == nil {
			r.L().Warn("could not connect", "addr", c.Addr)
		}
	case CommandPing:
		r.host.Ping(c.Addr)
	case CommandSend:
		defer c.Packet.Release()

		if c.Peer == nil {
			return
		}

		if err := c.Peer.Send(c.Packet); err != nil {
			r.L().Debug("send failed", "peer", c.Peer.ID(), "err", err)
		}
	case CommandDisconnect, CommandDisconnectNow, CommandDisconnectLater:
		if c.Peer == nil {
			return
		}

		switch c.Type {
		case CommandDisconnect:
			c.Peer.Disconnect()
		case CommandDisconnectNow:
			c.Peer.DisconnectNow()
		default:
			c.Peer.DisconnectLater()
		}
	default:
		r.L().Warn("unknown command", "type", c.Type)
		c.Packet.Release()
	}
}

func (r *Runner) shutdown(cause error) {
	r.disposed.Store(true)

	for _, p := range r.host.Peers() {
		p.DisconnectNow()
	}

	r.host.Flush()

	r.err = multierr.Combine(cause, r.host.Dispose())
	r.peers.Store(0)

	r.releaseAll()

	r.L().Debug("poller stopped", "err", r.err)
}

// releaseAll releases the packets of undelivered events and unexecuted commands.
func (r *Runner) releaseAll() {
	for _, e := range r.backlog {
		e.Packet.Release()
	}
	r.backlog = nil

	for {
		select {
		case e := <-r.events:
			e.Packet.Release()
		case c := <-r.commands:
			c.Packet.Release()
		default:
			return
		}
	}
}
