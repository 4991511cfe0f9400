package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regPeer(port uint16) *Peer {
	return &Peer{addr: netip.AddrPortFrom(netip.MustParseAddr("10.1.1.1"), port)}
}

func TestRegistry_InsertRemove(t *testing.T) {
	r := newRegistry(2)

	p1, p2, p3 := regPeer(1), regPeer(2), regPeer(3)

	require.True(t, r.insert(p1))
	require.True(t, r.insert(p2))
	assert.False(t, r.insert(p3), "at capacity")
	assert.True(t, r.full())

	assert.Equal(t, uint32(0), p1.ID())
	assert.Equal(t, uint32(1), p2.ID())

	assert.Same(t, p1, r.lookup(p1.addr))
	assert.Same(t, p2, r.lookup(p2.addr))
	assert.Nil(t, r.lookup(p3.addr))

	assert.True(t, r.remove(p1))
	assert.False(t, r.remove(p1), "second remove")

	assert.Nil(t, r.lookup(p1.addr))
	assert.Nil(t, r.byID(0))
	assert.Equal(t, 1, r.len())

	require.True(t, r.insert(p3))
	assert.Equal(t, uint32(0), p3.ID(), "freed id is reused")
}

func TestRegistry_FreeOrder(t *testing.T) {
	r := newRegistry(4)

	ps := []*Peer{regPeer(1), regPeer(2), regPeer(3), regPeer(4)}
	for _, p := range ps {
		require.True(t, r.insert(p))
	}

	r.remove(ps[2])
	r.remove(ps[0])

	a, b := regPeer(5), regPeer(6)
	require.True(t, r.insert(a))
	require.True(t, r.insert(b))

	assert.Equal(t, uint32(2), a.ID())
	assert.Equal(t, uint32(0), b.ID())
}

func TestRegistry_StaleHandle(t *testing.T) {
	r := newRegistry(1)

	p1 := regPeer(1)
	require.True(t, r.insert(p1))
	old := p1.h

	r.remove(p1)

	p2 := regPeer(2)
	require.True(t, r.insert(p2))

	assert.Equal(t, old.index, p2.h.index)
	assert.Nil(t, r.resolve(old))
	assert.Same(t, p2, r.resolve(p2.h))

	// A stale peer cannot remove its successor.
	assert.False(t, r.remove(p1))
	assert.Same(t, p2, r.byID(0))
}

func TestRegistry_DuplicateAddress(t *testing.T) {
	r := newRegistry(4)

	require.True(t, r.insert(regPeer(1)))
	assert.False(t, r.insert(regPeer(1)))
	assert.Equal(t, 1, r.len())
}

func TestRegistry_EachAllowsRemoval(t *testing.T) {
	r := newRegistry(4)

	for i := uint16(1); i <= 3; i++ {
		require.True(t, r.insert(regPeer(i)))
	}

	var seen []uint32
	r.each(func(p *Peer) {
		seen = append(seen, p.ID())
		r.remove(p)
	})

	assert.Equal(t, []uint32{0, 1, 2}, seen)
	assert.Equal(t, 0, r.len())
	assert.Empty(t, r.peers())
}

func TestRegistry_LastPeerCache(t *testing.T) {
	r := newRegistry(4)

	p := regPeer(1)
	require.True(t, r.insert(p))

	assert.Same(t, p, r.lookup(p.addr))
	assert.Same(t, p, r.last)

	r.remove(p)
	assert.Nil(t, r.last)
	assert.Nil(t, r.lookup(p.addr))
}
