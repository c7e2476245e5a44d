//go:build !linux

package reflector

import "net"

// enableRecvTTL is a no-op on platforms without a Linux-style IP_RECVTTL
// setsockopt path. golang.org/x/net/ipv4's SetControlMessage still provides
// TTL reporting portably where the kernel supports it.
func enableRecvTTL(*net.UDPConn) error {
	return nil
}
