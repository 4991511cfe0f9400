// Package packet contains the payload buffer exchanged between applications and the transport.
//
// A Packet either owns its buffer (drawn from a pool, returned exactly once by Release),
// or borrows caller memory (NoAllocate), in which case Release never touches the memory.
package packet

import (
	"sync"

	"github.com/edup2p/peerlink/types"
	"go4.org/mem"
)

// PooledSize is the capacity of pooled buffers; larger packets are allocated on demand.
const PooledSize = 2048

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, PooledSize)
		return &b
	},
}

type Packet struct {
	types.Incomparable

	buf   []byte
	flags Flag

	borrowed bool

	// pooled is set if buf is backed by a pool buffer.
	pooled *[]byte
}

func alloc(n int, flags Flag) *Packet {
	p := &Packet{flags: flags &^ NoAllocate}

	if n <= PooledSize {
		p.pooled = bufPool.Get().(*[]byte)
		p.buf = (*p.pooled)[:n]
	} else {
		p.buf = make([]byte, n)
	}

	return p
}

func borrow(b []byte, flags Flag) *Packet {
	return &Packet{
		buf:      b,
		flags:    flags | NoAllocate,
		borrowed: true,
	}
}

// New allocates an owned, zeroed packet of n bytes.
func New(n int, flags Flag) (*Packet, error) {
	if flags.Has(NoAllocate) {
		return nil, ErrNoData
	}
	if n < 0 {
		return nil, ErrOutOfRange
	}

	p := alloc(n, flags)
	clear(p.buf)

	return p, nil
}

// FromBytes copies b into an owned packet, or aliases it if NoAllocate is set.
func FromBytes(b []byte, flags Flag) *Packet {
	if flags.Has(NoAllocate) {
		return borrow(b, flags)
	}

	p := alloc(len(b), flags)
	copy(p.buf, b)

	return p
}

// FromBytesRange is FromBytes over b[offset:offset+length].
func FromBytesRange(b []byte, offset, length int, flags Flag) (*Packet, error) {
	if offset < 0 || length < 0 || offset+length > len(b) {
		return nil, ErrOutOfRange
	}

	return FromBytes(b[offset:offset+length], flags), nil
}

// FromRO copies a managed read-only sequence into an owned packet.
//
// Borrowing is refused, as the packet cannot control the lifetime of r.
func FromRO(r mem.RO, flags Flag) (*Packet, error) {
	if flags.Has(NoAllocate) {
		return nil, ErrInvalidOperation
	}

	p := alloc(r.Len(), flags)
	p.buf = mem.Append(p.buf[:0], r)

	return p, nil
}

// Copy creates a packet with the contents of src, aliasing it if NoAllocate is set.
func Copy(src *Packet, flags Flag) *Packet {
	return FromBytes(src.Bytes(), flags)
}

// Slice creates a packet from src[offset:offset+length], aliasing it if NoAllocate is set.
func Slice(src *Packet, offset, length int, flags Flag) (*Packet, error) {
	return FromBytesRange(src.Bytes(), offset, length, flags)
}

// Bytes returns the payload. The slice is only valid until Release.
func (p *Packet) Bytes() []byte {
	if p == nil {
		return nil
	}

	return p.buf
}

// RO returns a read-only view of the payload.
func (p *Packet) RO() mem.RO {
	return mem.B(p.Bytes())
}

func (p *Packet) Len() int {
	return len(p.Bytes())
}

func (p *Packet) Flags() Flag {
	if p == nil {
		return FlagNone
	}

	return p.flags
}

// IsSet reports whether the packet still refers to a buffer.
func (p *Packet) IsSet() bool {
	return p != nil && p.buf != nil
}

func (p *Packet) IsBorrowed() bool {
	return p != nil && p.borrowed
}

// CopyTo copies the payload into dst, returning the number of bytes copied.
func (p *Packet) CopyTo(dst []byte) int {
	return copy(dst, p.Bytes())
}

// Release gives an owned buffer back to the pool and clears the packet.
//
// Calling it on a borrowed, released, or nil packet does nothing to the underlying memory.
func (p *Packet) Release() {
	if p == nil {
		return
	}

	if p.borrowed {
		p.buf = nil
		return
	}

	if p.pooled != nil {
		bufPool.Put(p.pooled)
		p.pooled = nil
	}

	p.buf = nil
}
