package packet

import "strings"

// Flag tags a Packet with its delivery channel and ownership.
type Flag byte

const (
	FlagNone Flag = 0

	// NoAllocate makes a Packet alias caller memory instead of copying it.
	NoAllocate Flag = 1 << 0

	Unreliable Flag = 1 << 1
	Sequenced  Flag = 1 << 2
	Reliable   Flag = 1 << 3
)

// ChannelMask selects the delivery channel bits of a Flag.
const ChannelMask = Unreliable | Sequenced | Reliable

// Has reports whether all bits of o are set in f.
func (f Flag) Has(o Flag) bool {
	return f&o == o
}

// Channel returns the channel bits of f.
func (f Flag) Channel() Flag {
	return f & ChannelMask
}

// ValidChannel reports whether exactly one channel bit is set.
func (f Flag) ValidChannel() bool {
	c := f.Channel()

	return c != 0 && c&(c-1) == 0
}

func (f Flag) String() string {
	if f == FlagNone {
		return "none"
	}

	var parts []string

	if f.Has(Reliable) {
		parts = append(parts, "reliable")
	}
	if f.Has(Sequenced) {
		parts = append(parts, "sequenced")
	}
	if f.Has(Unreliable) {
		parts = append(parts, "unreliable")
	}
	if f.Has(NoAllocate) {
		parts = append(parts, "noalloc")
	}

	return strings.Join(parts, "|")
}
