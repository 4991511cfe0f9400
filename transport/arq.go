package transport

// ARQ is the reliable, ordered delivery engine behind the reliable channel of a Peer.
//
// Frames it wants to put on the wire are handed to the output function given at construction.
type ARQ interface {
	// Input feeds a frame received from the remote.
	Input(frame []byte) error
	// Send queues a message for reliable delivery.
	Send(msg []byte) error
	// Receive copies the next complete message into buf, or returns ErrWouldBlock.
	Receive(buf []byte) (int, error)
	// Update runs retransmission timers and emits due frames.
	Update()
	// Pending returns the number of messages not yet acknowledged by the remote.
	Pending() int
	Release()
}

// ARQFactory creates the ARQ for a conversation, emitting frames through output.
//
// The frame passed to output is only valid for the duration of the call.
type ARQFactory func(conv uint32, cfg *Config, output func(frame []byte)) ARQ
