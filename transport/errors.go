package transport

import "errors"

var (
	ErrCreation        = errors.New("host creation failed")
	ErrAlreadyCreated  = errors.New("host already created")
	ErrInvalidCapacity = errors.New("invalid peer capacity")
	ErrBind            = errors.New("could not bind socket")
	ErrUnsupported     = errors.New("address family not supported")

	ErrNotCreated = errors.New("host not created")

	ErrInvalidFlags = errors.New("exactly one channel flag must be set")
	ErrNotConnected = errors.New("peer not connected")
	ErrTooLarge     = errors.New("packet exceeds buffer size")

	// ErrWouldBlock is returned by ARQ.Receive when no complete message is available.
	ErrWouldBlock = errors.New("no message available")
	ErrARQ        = errors.New("reliable channel failure")
)
