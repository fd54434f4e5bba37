//go:build darwin

package socketbind

import (
	"net"

	"golang.org/x/sys/unix"
)

// darwin lacks SO_BINDTODEVICE; IP_BOUND_IF/IPV6_BOUND_IF take a resolved
// interface index instead of a name.
const (
	ipBoundIF   = 25 // IP_BOUND_IF
	ipv6BoundIF = 125 // IPV6_BOUND_IF
)

func bindToInterface(c syscallRawConn, network, iface string) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return &Error{Kind: InvalidInterface, Err: err}
	}

	var sockErr error
	ctrlErr := c.Control(func(fd uintptr) {
		if network == "tcp6" {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, ipv6BoundIF, ifi.Index)
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, ipBoundIF, ifi.Index)
	})
	if ctrlErr != nil {
		return &Error{Kind: BindFailed, Err: ctrlErr}
	}
	if sockErr != nil {
		return &Error{Kind: BindFailed, Err: sockErr}
	}
	return nil
}

// deferEphemeralPort has no darwin equivalent of IP_BIND_ADDRESS_NO_PORT;
// the ephemeral port is simply chosen at bind() time as usual.
func deferEphemeralPort(c syscallRawConn) error {
	return nil
}
