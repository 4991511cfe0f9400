package wire

import "errors"

var (
	ErrTooSmall       = errors.New("datagram too small")
	ErrUnknownChannel = errors.New("unknown channel byte")
	ErrWrongSession   = errors.New("session mismatch")
)
