package rendezvous

import "errors"

var (
	ErrBadEndpoint = errors.New("endpoint must be 18 bytes")
	ErrBadMode     = errors.New("unknown rendezvous mode")
	ErrBadAllow    = errors.New("invalid allow-list entry")
)
