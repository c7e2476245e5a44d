//go:build linux

package reflector

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// enableRecvTTL sets IP_RECVTTL directly via setsockopt.
// golang.org/x/net/ipv4's SetControlMessage already performs the portable
// equivalent; this enable path also succeeds on kernels where the x/net
// control-message path does not.
func enableRecvTTL(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_RECVTTL, 1)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}
