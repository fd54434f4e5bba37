// Package cidr expands CIDR specifications into a lazy stream of candidate
// endpoints, using stratified sampling to keep large ranges tractable while
// preserving coverage across the prefix.
package cidr

import "fmt"

// Endpoint is an immutable candidate connection target: an IP address with
// an optional port override. Endpoints are value types produced only by
// Expand; nothing downstream mutates one in place.
type Endpoint struct {
	addr netAddr
	port uint16 // 0 means "use the run's default port"
}

// Port returns port if set, otherwise defaultPort.
func (e Endpoint) Port(defaultPort int) int {
	if e.port != 0 {
		return int(e.port)
	}
	return defaultPort
}

// String renders the endpoint's bare address, without brackets or port;
// HostPort is the bracketed host:port form.
func (e Endpoint) String() string {
	return e.addr.String()
}

// IsIPv6 reports whether the endpoint's address is IPv6.
func (e Endpoint) IsIPv6() bool {
	return e.addr.is6
}

// HostPort formats "host:port" (bracketing v6) using defaultPort when the
// endpoint carries no explicit override.
func (e Endpoint) HostPort(defaultPort int) string {
	p := e.Port(defaultPort)
	if e.addr.is6 {
		return fmt.Sprintf("[%s]:%d", e.addr.String(), p)
	}
	return fmt.Sprintf("%s:%d", e.addr.String(), p)
}
