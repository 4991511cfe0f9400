//go:build linux

package types

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SetDontFragment asks the kernel to set the DF bit on outgoing datagrams,
// so that oversized frames get dropped instead of fragmented.
func SetDontFragment(conn syscall.Conn, ipv6 bool) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error

	err = rc.Control(func(fd uintptr) {
		if ipv6 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DO)
			if sockErr != nil {
				return
			}
		}

		// Dual-stack sockets carry IPv4 traffic as well.
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	})
	if err != nil {
		return err
	}

	return sockErr
}
