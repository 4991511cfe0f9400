package rendezvous

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/edup2p/peerlink/runner"
	"go4.org/netipx"
)

type Mode byte

const (
	// ModeIntroduce forwards the requester's endpoint to the requested peer,
	// after telling every peer its own public endpoint on connect.
	ModeIntroduce Mode = iota
	// ModeLookup answers the requester with the endpoint of the requested peer.
	ModeLookup
)

func (m Mode) String() string {
	switch m {
	case ModeIntroduce:
		return "introduce"
	case ModeLookup:
		return "lookup"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "introduce":
		return ModeIntroduce, nil
	case "lookup":
		return ModeLookup, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadMode, s)
	}
}

type Config struct {
	Mode Mode

	MaxPeers int
	Port     uint16
	IPv6     bool

	// Allow restricts which addresses may stay connected; nil allows everyone.
	Allow *netipx.IPSet

	// RateTokens requests are allowed per RateInterval, per peer.
	RateTokens   uint64
	RateInterval time.Duration

	Runner *runner.Config
}

func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeIntroduce,
		MaxPeers:     4096,
		Port:         7777,
		RateTokens:   10,
		RateInterval: 10 * time.Second,
	}
}

// ParseAllowList builds an IPSet from prefixes, ranges ("a-b") and single addresses.
func ParseAllowList(entries []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder

	for _, e := range entries {
		e = strings.TrimSpace(e)

		switch {
		case e == "":
			continue
		case strings.Contains(e, "/"):
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadAllow, err)
			}
			b.AddPrefix(p.Masked())
		case strings.Contains(e, "-"):
			r, err := netipx.ParseIPRange(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadAllow, err)
			}
			b.AddRange(r)
		default:
			a, err := netip.ParseAddr(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadAllow, err)
			}
			b.Add(a.Unmap())
		}
	}

	return b.IPSet()
}
