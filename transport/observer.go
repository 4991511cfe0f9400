package transport

// DropReason names why an inbound datagram was discarded.
type DropReason string

const (
	DropTooSmall       DropReason = "too-small"
	DropUnknownChannel DropReason = "unknown-channel"
	DropUnknownPeer    DropReason = "unknown-peer"
	DropCapacity       DropReason = "capacity"
	DropSession        DropReason = "session"
	DropState          DropReason = "state"
	DropStale          DropReason = "stale-sequence"
	DropARQ            DropReason = "arq-input"
)

// Observer receives counters from a Host. It is called from the goroutine driving the Host.
type Observer interface {
	DatagramReceived(bytes int)
	DatagramSent(bytes int)
	DatagramDropped(reason DropReason)

	EventQueued(t EventType)
	PeersChanged(count int)
}

type NoopObserver struct{}

func (NoopObserver) DatagramReceived(int) {}
func (NoopObserver) DatagramSent(int) {}
func (NoopObserver) DatagramDropped(DropReason) {}
func (NoopObserver) EventQueued(EventType) {}
func (NoopObserver) PeersChanged(int) {}
