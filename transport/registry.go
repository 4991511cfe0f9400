package transport

import "net/netip"

// handle identifies a peer slot. gen changes every time the slot is reused,
// so a handle held past the peer's lifetime never resolves to its successor.
type handle struct {
	index uint32
	gen   uint32
}

type slot struct {
	peer *Peer
	gen  uint32
}

// registry is the peer arena of a Host. The slot index of a peer is its id.
//
// Freed ids are reused in the order they were freed, before any fresh id is handed out.
type registry struct {
	slots []slot
	free  []uint32
	next  uint32

	capacity int
	count    int

	byAddr map[netip.AddrPort]handle

	// last is the peer that the previous lookup resolved to.
	last *Peer
}

func newRegistry(capacity int) *registry {
	return &registry{
		slots:    make([]slot, 0, capacity),
		free:     make([]uint32, 0, capacity),
		capacity: capacity,
		byAddr:   make(map[netip.AddrPort]handle, capacity),
	}
}

func (r *registry) full() bool {
	return r.count >= r.capacity
}

func (r *registry) len() int {
	return r.count
}

// insert places p into the arena, assigning its id and handle.
func (r *registry) insert(p *Peer) bool {
	if r.full() {
		return false
	}

	if _, ok := r.byAddr[p.addr]; ok {
		return false
	}

	var idx uint32

	if len(r.free) > 0 {
		idx = r.free[0]
		r.free = r.free[1:]
	} else {
		idx = r.next
		r.next++
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[idx]
	s.gen++
	s.peer = p

	p.id = idx
	p.h = handle{index: idx, gen: s.gen}

	r.byAddr[p.addr] = p.h
	r.count++

	return true
}

func (r *registry) resolve(h handle) *Peer {
	if int(h.index) >= len(r.slots) {
		return nil
	}

	s := r.slots[h.index]
	if s.gen != h.gen {
		return nil
	}

	return s.peer
}

// lookup finds the peer registered under ap, if any.
func (r *registry) lookup(ap netip.AddrPort) *Peer {
	if r.last != nil && r.last.addr == ap {
		return r.last
	}

	h, ok := r.byAddr[ap]
	if !ok {
		return nil
	}

	p := r.resolve(h)
	if p != nil {
		r.last = p
	}

	return p
}

func (r *registry) byID(id uint32) *Peer {
	if int(id) >= len(r.slots) {
		return nil
	}

	return r.slots[id].peer
}

// remove frees the slot of p, reporting whether p was registered.
func (r *registry) remove(p *Peer) bool {
	if r.resolve(p.h) != p {
		return false
	}

	r.slots[p.h.index].peer = nil
	r.free = append(r.free, p.h.index)
	r.count--

	if h, ok := r.byAddr[p.addr]; ok && h == p.h {
		delete(r.byAddr, p.addr)
	}

	if r.last == p {
		r.last = nil
	}

	return true
}

// each calls fn for every registered peer in id order.
//
// fn may remove peers, including the one it is called with.
func (r *registry) each(fn func(p *Peer)) {
	for i := range r.slots {
		if p := r.slots[i].peer; p != nil {
			fn(p)
		}
	}
}

// peers returns a snapshot of the registered peers.
func (r *registry) peers() []*Peer {
	ps := make([]*Peer, 0, r.count)

	r.each(func(p *Peer) {
		ps = append(ps, p)
	})

	return ps
}
