//go:build linux

package socketbind

import (
	"golang.org/x/sys/unix"
)

// bindToInterface applies SO_BINDTODEVICE, the Linux mechanism for pinning
// a socket to an interface regardless of routing table state.
func bindToInterface(c syscallRawConn, network, iface string) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
	})
	if err != nil {
		return &Error{Kind: BindFailed, Err: err}
	}
	if sockErr != nil {
		return &Error{Kind: BindFailed, Err: sockErr}
	}
	return nil
}

// deferEphemeralPort sets IP_BIND_ADDRESS_NO_PORT so the kernel defers
// ephemeral source port selection until connect(), letting many concurrent
// probes share one bound source IP without exhausting the bind table.
func deferEphemeralPort(c syscallRawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_BIND_ADDRESS_NO_PORT, 1)
	})
	if err != nil {
		return err
	}
	// Best effort: older kernels may lack this option; ignore ENOPROTOOPT.
	if sockErr != nil && sockErr != unix.ENOPROTOOPT {
		return sockErr
	}
	return nil
}
