package transport

import (
	"errors"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edup2p/peerlink/types/bin"
	"github.com/stretchr/testify/require"
)

// Test constants
const assertEventuallyTick time.Duration = 1 * time.Millisecond
const assertEventuallyTimeout time.Duration = 2 * time.Second

var (
	addrA = netip.MustParseAddrPort("10.0.0.1:7777")
	addrB = netip.MustParseAddrPort("10.0.0.2:40000")
	addrC = netip.MustParseAddrPort("10.0.0.3:40000")
)

// fakeARQ emits every queued message as one frame on Update, without retransmission.
// Its frames carry the same 24-byte header layout as the real one, with only conv and command set.
type fakeARQ struct {
	conv   uint32
	output func([]byte)

	sendQ [][]byte
	recvQ [][]byte

	// hold makes that many Update calls emit nothing, like an interval timer that has not expired.
	hold int

	released bool
}

func newFakeARQ(conv uint32, _ *Config, output func([]byte)) ARQ {
	return &fakeARQ{conv: conv, output: output}
}

func fakeFrame(conv uint32, msg []byte) []byte {
	f := make([]byte, 24+len(msg))
	bin.PutUint32(f, conv)
	f[4] = 81
	copy(f[24:], msg)
	return f
}

func (a *fakeARQ) Input(frame []byte) error {
	if len(frame) < 24 || bin.Uint32(frame) != a.conv {
		return ErrARQ
	}

	a.recvQ = append(a.recvQ, slices.Clone(frame[24:]))
	return nil
}

func (a *fakeARQ) Send(msg []byte) error {
	a.sendQ = append(a.sendQ, slices.Clone(msg))
	return nil
}

func (a *fakeARQ) Receive(buf []byte) (int, error) {
	if len(a.recvQ) == 0 {
		return 0, ErrWouldBlock
	}

	msg := a.recvQ[0]
	if len(msg) > len(buf) {
		return 0, errors.New("buffer too small")
	}

	a.recvQ = a.recvQ[1:]

	return copy(buf, msg), nil
}

func (a *fakeARQ) Update() {
	if a.hold > 0 {
		a.hold--
		return
	}

	q := a.sendQ
	a.sendQ = nil

	for _, msg := range q {
		a.output(fakeFrame(a.conv, msg))
	}
}

func (a *fakeARQ) Pending() int {
	return len(a.sendQ)
}

func (a *fakeARQ) Release() {
	a.released = true
}

type countingObserver struct {
	NoopObserver

	dropped map[DropReason]int
	sent    int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: make(map[DropReason]int)}
}

func (o *countingObserver) DatagramDropped(reason DropReason) {
	o.dropped[reason]++
}

func (o *countingObserver) DatagramSent(int) {
	o.sent++
}

func (o *countingObserver) totalDropped() int {
	n := 0
	for _, c := range o.dropped {
		n += c
	}
	return n
}

// testRig is a set of hosts on a mock network, sharing a mock clock.
type testRig struct {
	t   *testing.T
	clk *clock.Mock
	net *mockNetwork

	hosts  map[netip.AddrPort]*Host
	obs    map[netip.AddrPort]*countingObserver
	events map[netip.AddrPort][]Event
}

func newTestRig(t *testing.T) *testRig {
	return &testRig{
		t:      t,
		clk:    clock.NewMock(),
		net:    newMockNetwork(),
		hosts:  make(map[netip.AddrPort]*Host),
		obs:    make(map[netip.AddrPort]*countingObserver),
		events: make(map[netip.AddrPort][]Event),
	}
}

func (r *testRig) host(ap netip.AddrPort, maxPeers int) *Host {
	cfg := DefaultConfig()
	cfg.Clock = r.clk

	obs := newCountingObserver()
	cfg.Observer = obs

	h := NewHost(cfg).WithARQ(newFakeARQ)
	require.NoError(r.t, h.Attach(r.net.conn(ap), maxPeers))

	r.hosts[ap] = h
	r.obs[ap] = obs

	return h
}

func (r *testRig) conn(ap netip.AddrPort) *mockConn {
	return r.net.conns[ap]
}

// step services and flushes every host once, collects their events, and advances the clock by a millisecond.
func (r *testRig) step() {
	for _, h := range r.hosts {
		h.Service()
	}

	for ap, h := range r.hosts {
		for {
			e, ok := h.CheckEvents()
			if !ok {
				break
			}

			r.events[ap] = append(r.events[ap], e)
		}
	}

	for _, h := range r.hosts {
		h.Flush()
	}

	r.clk.Add(time.Millisecond)
}

func (r *testRig) steps(n int) {
	for i := 0; i < n; i++ {
		r.step()
	}
}

func (r *testRig) eventTypes(ap netip.AddrPort) []EventType {
	var ts []EventType

	for _, e := range r.events[ap] {
		ts = append(ts, e.Type)
	}

	return ts
}

// connect performs a handshake from a to b, returning the peer on each side.
func (r *testRig) connect(a, b netip.AddrPort) (*Peer, *Peer) {
	pa := r.hosts[a].Connect(b)
	require.NotNil(r.t, pa)

	r.steps(4)

	require.Equal(r.t, StateConnected, pa.State())

	pb := r.hosts[b].peers.lookup(a)
	require.NotNil(r.t, pb)
	require.Equal(r.t, StateConnected, pb.State())

	r.events = make(map[netip.AddrPort][]Event)

	return pa, pb
}
