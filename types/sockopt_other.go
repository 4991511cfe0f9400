//go:build !linux

package types

import "syscall"

// SetDontFragment is a no-op on this platform.
func SetDontFragment(_ syscall.Conn, _ bool) error {
	return nil
}
