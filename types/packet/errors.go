package packet

import "errors"

var (
	// ErrNoData is returned when a borrowed packet is requested without backing memory.
	ErrNoData = errors.New("packet: NoAllocate requires caller-provided data")

	// ErrInvalidOperation is returned when borrowing memory whose lifetime the packet cannot control.
	ErrInvalidOperation = errors.New("packet: cannot borrow a managed sequence")

	ErrOutOfRange = errors.New("packet: offset or length out of range")
)
