package transport

import (
	"fmt"
	"time"

	"github.com/edup2p/peerlink/types/wire"
	"github.com/xtaci/kcp-go/v5"
)

type kcpARQ struct {
	kcp *kcp.KCP
}

// NewKCP is the default ARQFactory.
func NewKCP(conv uint32, cfg *Config, output func(frame []byte)) ARQ {
	k := kcp.NewKCP(conv, func(buf []byte, size int) {
		output(buf[:size])
	})

	nc := 0
	if cfg.NoCongestionWindow {
		nc = 1
	}

	// Leave room for the trailing channel byte.
	k.SetMtu(cfg.MTU - wire.ChannelLen)
	k.NoDelay(cfg.NoDelay, int(cfg.TickInterval/time.Millisecond), cfg.FastResend, nc)
	k.WndSize(cfg.WindowSize, cfg.WindowSize)

	return &kcpARQ{kcp: k}
}

func (a *kcpARQ) Input(frame []byte) error {
	if a.kcp == nil {
		return ErrARQ
	}

	if ret := a.kcp.Input(frame, true, false); ret < 0 {
		return fmt.Errorf("%w: input returned %d", ErrARQ, ret)
	}

	return nil
}

func (a *kcpARQ) Send(msg []byte) error {
	if a.kcp == nil {
		return ErrARQ
	}

	if ret := a.kcp.Send(msg); ret < 0 {
		return fmt.Errorf("%w: send returned %d", ErrARQ, ret)
	}

	return nil
}

func (a *kcpARQ) Receive(buf []byte) (int, error) {
	if a.kcp == nil {
		return 0, ErrARQ
	}

	n := a.kcp.Recv(buf)

	switch {
	case n >= 0:
		return n, nil
	case n == -1:
		return 0, ErrWouldBlock
	default:
		return 0, fmt.Errorf("%w: receive returned %d", ErrARQ, n)
	}
}

func (a *kcpARQ) Update() {
	if a.kcp != nil {
		a.kcp.Update()
	}
}

func (a *kcpARQ) Pending() int {
	if a.kcp == nil {
		return 0
	}

	return a.kcp.WaitSnd()
}

func (a *kcpARQ) Release() {
	a.kcp = nil
}
