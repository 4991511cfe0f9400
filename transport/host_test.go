package transport

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/edup2p/peerlink/types"
	"github.com/edup2p/peerlink/types/packet"
	"github.com/edup2p/peerlink/types/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_Errors(t *testing.T) {
	h := NewHost(nil)

	err := h.Create(0, 0, false)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	err = h.Create(MaxPeersLimit+1, 0, false)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	require.NoError(t, h.Attach(&mockConn{}, 4))

	err = h.Attach(&mockConn{}, 4)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorIs(t, err, ErrAlreadyCreated)

	err = h.Create(4, 0, false)
	assert.ErrorIs(t, err, ErrAlreadyCreated)

	assert.NoError(t, h.Dispose())
}

func TestCreate_BindConflict(t *testing.T) {
	a := NewHost(nil)
	require.NoError(t, a.Create(1, 0, false))
	defer a.Dispose()

	b := NewHost(nil)
	err := b.Create(1, a.LocalAddr().Port(), false)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorIs(t, err, ErrBind)
	assert.False(t, b.IsSet())
}

func TestHost_NotCreated(t *testing.T) {
	h := NewHost(nil)

	assert.False(t, h.IsSet())
	assert.Nil(t, h.Connect(addrA))
	assert.Nil(t, h.Peer(0))
	assert.Equal(t, 0, h.PeerCount())

	assert.NotPanics(t, h.Service)
	assert.NotPanics(t, h.Flush)
	assert.NotPanics(t, func() { h.Ping(addrA) })
	assert.NoError(t, h.Dispose())
}

func TestFlush_Idempotent(t *testing.T) {
	r := newTestRig(t)
	h := r.host(addrA, 4)
	r.host(addrB, 4)

	pa, _ := r.connect(addrA, addrB)
	conn := r.conn(addrA)

	require.NoError(t, pa.Send(packet.FromBytes([]byte("r"), packet.Reliable)))
	require.NoError(t, pa.Send(packet.FromBytes([]byte("s"), packet.Sequenced)))

	before := len(conn.writes)

	h.Flush()
	assert.Equal(t, before+2, len(conn.writes))

	// Same millisecond, nothing queued.
	h.Flush()
	h.Flush()
	assert.Equal(t, before+2, len(conn.writes))

	// Raw datagrams are written even within the same millisecond, reliable ones wait for the next update.
	require.NoError(t, pa.Send(packet.FromBytes([]byte("u"), packet.Unreliable)))
	require.NoError(t, pa.Send(packet.FromBytes([]byte("r2"), packet.Reliable)))

	h.Flush()
	assert.Equal(t, before+3, len(conn.writes))

	r.clk.Add(time.Millisecond)
	h.Flush()
	assert.Equal(t, before+4, len(conn.writes))
}

func TestPassiveAccept(t *testing.T) {
	r := newTestRig(t)
	h := r.host(addrB, 1)
	conn := r.conn(addrB)

	connect := func(sid byte) []byte {
		return wire.AppendReliable(nil, fakeFrame(wire.Conv(DefaultConversation, sid), []byte{byte(wire.HeaderConnect)}))
	}

	// Not an opening frame.
	conn.inject(addrA, wire.AppendReliable(nil, fakeFrame(wire.Conv(DefaultConversation, 1), []byte{byte(wire.HeaderData), 'x'})))
	// Opening frame on the wrong channel.
	conn.inject(addrA, append(connect(1)[:wire.ConnectDatagramLen-1], byte(packet.Unreliable)))
	// Opening frame under a different conversation.
	conn.inject(addrA, wire.AppendReliable(nil, fakeFrame(wire.Conv(DefaultConversation^0x1000, 1), []byte{byte(wire.HeaderConnect)})))
	// Too small, and unknown channel.
	conn.inject(addrA, []byte{0x08})
	conn.inject(addrA, []byte{0x00, 0x10})

	r.step()

	assert.Equal(t, 0, h.PeerCount())
	assert.Equal(t, 3, r.obs[addrB].dropped[DropUnknownPeer])
	assert.Equal(t, 1, r.obs[addrB].dropped[DropTooSmall])
	assert.Equal(t, 1, r.obs[addrB].dropped[DropUnknownChannel])

	conn.inject(addrA, connect(9))
	conn.inject(addrC, connect(3))
	r.step()

	require.Equal(t, 1, h.PeerCount())
	assert.Equal(t, 1, r.obs[addrB].dropped[DropCapacity])

	p := h.Peer(0)
	require.NotNil(t, p)
	assert.Equal(t, addrA, p.AddrPort())
	assert.Equal(t, byte(9), p.Session())
	assert.Equal(t, StateConnectAcknowledging, p.State())
}

func TestConnect_Capacity(t *testing.T) {
	r := newTestRig(t)
	h := r.host(addrA, 1)

	require.NotNil(t, h.Connect(addrB))
	assert.Nil(t, h.Connect(addrC))

	// 4in6 addresses resolve to the same peer.
	mapped := netip.AddrPortFrom(netip.AddrFrom16(addrB.Addr().As16()), addrB.Port())
	assert.Same(t, h.Connect(addrB), h.Connect(mapped))
}

func TestPing(t *testing.T) {
	r := newTestRig(t)
	ha := r.host(addrA, 4)
	hb := r.host(addrB, 4)

	ha.Ping(addrB)

	require.Len(t, r.conn(addrA).writes, 1)
	assert.Equal(t, []byte{0x01}, r.conn(addrA).writes[0].data)

	r.step()

	assert.Equal(t, 0, hb.PeerCount())
	assert.Equal(t, 1, r.obs[addrB].dropped[DropTooSmall])
}

func TestDispose(t *testing.T) {
	r := newTestRig(t)
	ha := r.host(addrA, 4)
	r.host(addrB, 4)

	pa, pb := r.connect(addrA, addrB)

	require.NoError(t, pb.Send(packet.FromBytes([]byte("x"), packet.Unreliable)))
	r.steps(2)

	// Leave an undelivered data event queued.
	require.NoError(t, pb.Send(packet.FromBytes([]byte("y"), packet.Unreliable)))
	r.hosts[addrB].Flush()
	ha.Service()
	require.Equal(t, 1, ha.PendingEvents())

	conn := r.conn(addrA)

	require.NoError(t, ha.Dispose())

	assert.True(t, conn.closed)
	assert.False(t, ha.IsSet())
	assert.Equal(t, StateDisconnected, pa.State())
	assert.Zero(t, ha.PendingEvents())

	last := conn.writes[len(conn.writes)-1]
	assert.Equal(t, []byte{0x20, 0x40, pa.Session()}, last.data)

	assert.NoError(t, ha.Dispose())
}

func TestDispose_CloseCatcher(t *testing.T) {
	catcher := &types.UDPConnCloseCatcher{UDPConn: &mockConn{}}

	h := NewHost(nil)
	require.NoError(t, h.Attach(catcher, 1))
	require.NoError(t, h.Dispose())

	assert.True(t, catcher.Closed)
}

// pumpUntil drives hosts from the test goroutine until cond holds.
func pumpUntil(t *testing.T, cond func() bool, hosts ...*Host) {
	t.Helper()

	deadline := time.Now().Add(assertEventuallyTimeout)

	for time.Now().Before(deadline) {
		for _, h := range hosts {
			h.Service()
			h.Flush()
		}

		if cond() {
			return
		}

		time.Sleep(assertEventuallyTick)
	}

	assert.FailNow(t, "condition not reached before timeout")
}

func collectInto(h *Host, into *[]Event) func() {
	return func() {
		for {
			e, ok := h.CheckEvents()
			if !ok {
				return
			}

			*into = append(*into, e)
		}
	}
}

// loopbackPair connects b to a over real sockets and the default reliable channel.
func loopbackPair(t *testing.T, portA uint16) (a, b *Host, pa, pb *Peer, evA, evB *[]Event) {
	t.Helper()

	a = NewHost(nil)
	require.NoError(t, a.Create(8, portA, false))
	t.Cleanup(func() { a.Dispose() })

	b = NewHost(nil)
	require.NoError(t, b.Create(8, 0, false))
	t.Cleanup(func() { b.Dispose() })

	evA, evB = new([]Event), new([]Event)
	drainA, drainB := collectInto(a, evA), collectInto(b, evB)

	target := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), a.LocalAddr().Port())

	pb = b.Connect(target)
	require.NotNil(t, pb)

	pumpUntil(t, func() bool {
		drainA()
		drainB()
		return len(*evA) > 0 && len(*evB) > 0
	}, a, b)

	require.Len(t, *evA, 1)
	require.Len(t, *evB, 1)
	assert.Equal(t, EventConnect, (*evA)[0].Type)
	assert.Equal(t, EventConnect, (*evB)[0].Type)
	assert.Same(t, pb, (*evB)[0].Peer)

	pa = (*evA)[0].Peer
	assert.Equal(t, StateConnected, pa.State())
	assert.Equal(t, b.LocalAddr().Port(), pa.AddrPort().Port())

	return a, b, pa, pb, evA, evB
}

// TestLoopback runs the full protocol over real sockets: A listens on 7777, B on an ephemeral port.
func TestLoopback(t *testing.T) {
	a, b, pa, pb, evA, evB := loopbackPair(t, 7777)
	drainA, drainB := collectInto(a, evA), collectInto(b, evB)

	require.NoError(t, pb.Send(packet.FromBytes([]byte("hello"), packet.Reliable)))

	pumpUntil(t, func() bool {
		drainA()
		return len(*evA) > 1
	}, a, b)

	require.Len(t, *evA, 2)
	assert.Equal(t, EventData, (*evA)[1].Type)
	assert.Equal(t, []byte("hello"), (*evA)[1].Packet.Bytes())
	(*evA)[1].Packet.Release()

	// Queue a message right after a flush, so that the reliable channel still holds it when disconnecting.
	b.Flush()
	require.NoError(t, pb.Send(packet.FromBytes([]byte("bye"), packet.Reliable)))

	pb.DisconnectNow()

	assert.Equal(t, 0, b.PeerCount())
	assert.Equal(t, StateDisconnected, pb.State())

	drainB()
	require.Len(t, *evB, 2)
	assert.Equal(t, EventDisconnect, (*evB)[1].Type)

	pumpUntil(t, func() bool {
		drainA()
		return len(*evA) > 3
	}, a, b)

	require.Len(t, *evA, 4)
	assert.Equal(t, EventData, (*evA)[2].Type)
	assert.Equal(t, []byte("bye"), (*evA)[2].Packet.Bytes())
	(*evA)[2].Packet.Release()

	assert.Equal(t, EventDisconnect, (*evA)[3].Type)
	assert.Same(t, pa, (*evA)[3].Peer)
	assert.Equal(t, 0, a.PeerCount())
	assert.False(t, pb.IsSet())
}

func TestLoopback_LargeReliable(t *testing.T) {
	a, b, _, pb, evA, _ := loopbackPair(t, 0)
	drainA := collectInto(a, evA)

	sizes := []int{1399, 1500, DefaultBufferSize - 1}

	for i, n := range sizes {
		msg := bytes.Repeat([]byte{byte('a' + i)}, n)
		require.NoError(t, pb.Send(packet.FromBytes(msg, packet.Reliable)), n)
	}

	pumpUntil(t, func() bool {
		drainA()
		return len(*evA) > len(sizes)
	}, a, b)

	for i, n := range sizes {
		e := (*evA)[1+i]
		require.Equal(t, EventData, e.Type)
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, n), e.Packet.Bytes(), n)
		e.Packet.Release()
	}

	assert.ErrorIs(t, pb.Send(packet.FromBytes(make([]byte, DefaultBufferSize), packet.Reliable)), ErrTooLarge)
}

func TestLoopback_GracefulDisconnect(t *testing.T) {
	a, b, pa, _, evA, evB := loopbackPair(t, 0)
	drainA, drainB := collectInto(a, evA), collectInto(b, evB)

	pa.Disconnect()

	pumpUntil(t, func() bool {
		drainA()
		drainB()
		return len(*evA) > 1 && len(*evB) > 1
	}, a, b)

	assert.Equal(t, EventDisconnect, (*evA)[1].Type)
	assert.Equal(t, EventDisconnect, (*evB)[1].Type)
	assert.Equal(t, 0, a.PeerCount())
	assert.Equal(t, 0, b.PeerCount())
}
