package cidr

import (
	"math/big"
	"net"
	"net/netip"
)

// netAddr is an integer representation of an IP address. Per the design
// note against octet-by-octet arithmetic, all arithmetic (increment,
// stratified offset, range math) happens on the big.Int form; conversion to
// a printable/dialable address happens only once, at emission.
type netAddr struct {
	v   *big.Int
	is6 bool
}

func addrFromNetIP(ip net.IP) netAddr {
	if v4 := ip.To4(); v4 != nil {
		return netAddr{v: new(big.Int).SetBytes(v4), is6: false}
	}
	v6 := ip.To16()
	return netAddr{v: new(big.Int).SetBytes(v6), is6: true}
}

// add builds the Nth address above base (base + n), used during
// stratified sampling.
func (a netAddr) add(n *big.Int) netAddr {
	return netAddr{v: new(big.Int).Add(a.v, n), is6: a.is6}
}

func (a netAddr) bitLen() int {
	if a.is6 {
		return 128
	}
	return 32
}

func (a netAddr) toNetIP() net.IP {
	byteLen := a.bitLen() / 8
	b := a.v.FillBytes(make([]byte, byteLen))
	return net.IP(b)
}

func (a netAddr) String() string {
	ip, ok := netip.AddrFromSlice(a.toNetIP())
	if !ok {
		return a.toNetIP().String()
	}
	return ip.String()
}

// networkBase returns the integer value of prefix's network address and the
// number of host bits (the address space size is 2^hostBits).
func networkBase(prefix netip.Prefix) (netAddr, int) {
	ip := prefix.Masked().Addr()
	is6 := ip.Is6() && !ip.Is4In6()
	base := addrFromNetIP(net.IP(ip.AsSlice()))
	base.is6 = is6
	hostBits := ip.BitLen() - prefix.Bits()
	return base, hostBits
}
