package transport

import (
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// MaxPeersLimit is the highest capacity a host accepts.
	MaxPeersLimit = 4096

	DefaultConversation uint32 = 3847762548
	DefaultBufferSize          = 2048
	DefaultWindowSize          = 1024

	// DefaultMTU is the largest datagram of the reliable channel; longer messages are fragmented.
	DefaultMTU = 1400
	// MaxMTU is the largest segment the reliable channel can produce.
	MaxMTU = 1500

	DefaultPingInterval   = 500 * time.Millisecond
	DefaultReceiveTimeout = 5000 * time.Millisecond
	DefaultTickInterval   = 1 * time.Millisecond
	DefaultPollTimeout    = 1 * time.Millisecond

	DefaultMaxReceivePerService = 4096

	// minMTU leaves room for the segment header and framing bytes.
	minMTU = 50

	minSocketBuffer = 64 << 10
	maxSocketBuffer = 8 << 20
)

// Config contains the tunables of a Host, and of every Peer it creates.
type Config struct {
	// MaxPeers bounds the capacity that can be passed to Create or Attach.
	MaxPeers int

	// BufferSize is the largest datagram that is sent or received.
	BufferSize int
	// WindowSize is the send and receive window of the reliable channel, in segments.
	WindowSize int
	// MTU bounds the datagrams of the reliable channel, channel byte included.
	MTU int

	PingInterval   time.Duration
	ReceiveTimeout time.Duration
	TickInterval   time.Duration

	// Conversation is the base conversation id of the reliable channel; its lowest byte is replaced by the session.
	Conversation       uint32
	NoDelay            int
	FastResend         int
	NoCongestionWindow bool

	// PollTimeout is how long Service waits for the first datagram.
	PollTimeout time.Duration
	// MaxReceivePerService bounds the datagrams Service reads in one call.
	MaxReceivePerService int

	Clock    clock.Clock
	Observer Observer
}

// DefaultConfig returns the configuration used when a Host is created with a nil config.
func DefaultConfig() *Config {
	return &Config{
		MaxPeers: MaxPeersLimit,

		BufferSize: DefaultBufferSize,
		WindowSize: DefaultWindowSize,
		MTU:        DefaultMTU,

		PingInterval:   DefaultPingInterval,
		ReceiveTimeout: DefaultReceiveTimeout,
		TickInterval:   DefaultTickInterval,

		Conversation:       DefaultConversation,
		NoDelay:            1,
		FastResend:         2,
		NoCongestionWindow: true,

		PollTimeout:          DefaultPollTimeout,
		MaxReceivePerService: DefaultMaxReceivePerService,

		Clock:    clock.New(),
		Observer: NoopObserver{},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxPeers <= 0 || c.MaxPeers > MaxPeersLimit {
		c.MaxPeers = d.MaxPeers
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MTU <= minMTU || c.MTU > MaxMTU {
		c.MTU = d.MTU
	}
	c.MTU = min(c.MTU, c.BufferSize)
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.Conversation == 0 {
		c.Conversation = d.Conversation
	}
	if c.PollTimeout < 0 {
		c.PollTimeout = 0
	}
	if c.MaxReceivePerService <= 0 {
		c.MaxReceivePerService = d.MaxReceivePerService
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Observer == nil {
		c.Observer = d.Observer
	}

	return c
}
