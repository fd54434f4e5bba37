//go:build windows

package socketbind

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/windows"
)

// IP_UNICAST_IF's byte-order convention differs by family on Windows: the
// IPv4 option wants the interface index in network byte order, while the
// IPv6 option wants it in host byte order. Getting this backwards silently
// binds the wrong interface rather than failing, so the two paths are kept
// deliberately separate below instead of sharing a "clever" helper.
func bindToInterface(c syscallRawConn, network, iface string) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return &Error{Kind: InvalidInterface, Err: err}
	}

	var sockErr error
	ctrlErr := c.Control(func(fd uintptr) {
		if network == "tcp6" {
			sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IPV6, windows.IPV6_UNICAST_IF, ifi.Index)
			return
		}
		var be [4]byte
		binary.BigEndian.PutUint32(be[:], uint32(ifi.Index))
		netOrderIndex := int(binary.LittleEndian.Uint32(be[:]))
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IP, windows.IP_UNICAST_IF, netOrderIndex)
	})
	if ctrlErr != nil {
		return &Error{Kind: BindFailed, Err: ctrlErr}
	}
	if sockErr != nil {
		return &Error{Kind: BindFailed, Err: sockErr}
	}
	return nil
}

// deferEphemeralPort has no Windows equivalent of IP_BIND_ADDRESS_NO_PORT.
func deferEphemeralPort(c syscallRawConn) error {
	return nil
}
