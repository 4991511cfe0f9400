package transport

import (
	"fmt"

	"github.com/edup2p/peerlink/types/packet"
)

type EventType byte

const (
	EventNone EventType = iota
	EventConnect
	EventData
	EventTimeout
	EventDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventTimeout:
		return "timeout"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("event(%d)", byte(t))
	}
}

// Event is a single notification produced by a Host.
//
// The consumer owns Packet of an EventData event, and must Release it.
type Event struct {
	Type   EventType
	Peer   *Peer
	Packet *packet.Packet
}

// queue is a plain FIFO.
type queue[T any] struct {
	items []T
	head  int
}

func (q *queue[T]) push(v T) {
	q.items = append(q.items, v)
}

func (q *queue[T]) pop() (v T, ok bool) {
	if q.head >= len(q.items) {
		return v, false
	}

	v = q.items[q.head]

	var zero T
	q.items[q.head] = zero
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > len(q.items)/2:
		// Compact once more than half of items is consumed.
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return v, true
}

func (q *queue[T]) len() int {
	return len(q.items) - q.head
}

func (q *queue[T]) clear() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
