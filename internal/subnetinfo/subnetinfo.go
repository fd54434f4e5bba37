// Package subnetinfo implements the `describe` subcommand: a sanity-check
// report for one CIDR, showing its address range and how many endpoints a
// real run would select from it, without actually probing anything.
//
// Adapted from the teacher's internal/subnet.SubnetInfo/Calculate, fixed to
// handle IPv6 (the teacher's version explicitly refused it) and to report
// the Stage A selection heuristic instead of raw subnet-math trivia.
package subnetinfo

import (
	"fmt"
	"math/big"
	"net/netip"
	"strings"

	"github.com/klp2/cfprobe/internal/config"
)

// Info describes one parsed CIDR for operator review.
type Info struct {
	CIDR            string
	NetworkAddress  string
	Is6             bool
	PrefixLength    int
	HostBits        int
	TotalAddresses  string // decimal string; can exceed uint64 for large v6 ranges
	SelectionCount  string // how many endpoints a real run would draw from this CIDR
	SelectionReason string // which rule produced SelectionCount
}

// Describe parses cidrStr (bare IP, "ip/prefix", or "[v6]/prefix") and
// reports its range plus the Stage A selection heuristic cfg would apply.
func Describe(cidrStr string, cfg config.RunConfig) (*Info, error) {
	prefix, err := parsePrefixOrAddr(cidrStr)
	if err != nil {
		return nil, err
	}

	addr := prefix.Masked().Addr()
	hostBits := addr.BitLen() - prefix.Bits()

	total := pow2String(hostBits)
	count, reason := selectionHeuristic(prefix, hostBits, cfg)

	// A run never draws more than the range holds, nor (for a single CIDR)
	// more than the global cap.
	n, _ := new(big.Int).SetString(count, 10)
	if t, _ := new(big.Int).SetString(total, 10); n.Cmp(t) > 0 {
		n, reason = t, reason+", limited to the range size"
	}
	if c := big.NewInt(cfg.MaxIPCount); cfg.MaxIPCount > 0 && n.Cmp(c) > 0 {
		n, reason = c, reason+", limited by the global cap"
	}
	count = n.String()

	return &Info{
		CIDR:            prefix.String(),
		NetworkAddress:  addr.String(),
		Is6:             addr.Is6(),
		PrefixLength:    prefix.Bits(),
		HostBits:        hostBits,
		TotalAddresses:  total,
		SelectionCount:  count,
		SelectionReason: reason,
	}, nil
}

func parsePrefixOrAddr(s string) (netip.Prefix, error) {
	if strings.HasPrefix(s, "[") {
		s = strings.Replace(s[1:], "]", "", 1)
	}
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR or IP %q: %w", s, err)
	}
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	return netip.PrefixFrom(addr, bits), nil
}

// selectionHeuristic mirrors internal/cidr's heuristicCardinality, kept as
// a small independent copy here since describe only needs to report the
// number, not perform the actual stratified draw.
func selectionHeuristic(prefix netip.Prefix, hostBits int, cfg config.RunConfig) (count, reason string) {
	if hostBits == 0 {
		return "1", "single host"
	}
	if cfg.TestAll {
		return pow2String(hostBits), "test_all: every host"
	}
	if prefix.Addr().Is4() {
		if cfg.IPv4Amount > 0 {
			return fmt.Sprintf("%d", cfg.IPv4Amount), "explicit -n4"
		}
		return divPow2By(hostBits, 64), "default: every 64th host"
	}
	if cfg.IPv6Amount > 0 {
		return fmt.Sprintf("%d", cfg.IPv6Amount), "explicit -n6"
	}
	return fmt.Sprintf("%d", cfg.IPv6Mode.CardinalityFor()), fmt.Sprintf("ipv6 mode %q default", cfg.IPv6Mode)
}

// Format renders Info as a human-readable report.
func (i Info) Format() string {
	var sb strings.Builder
	family := "IPv4"
	if i.Is6 {
		family = "IPv6"
	}
	fmt.Fprintf(&sb, "CIDR:             %s (%s)\n", i.CIDR, family)
	fmt.Fprintf(&sb, "Network address:  %s\n", i.NetworkAddress)
	fmt.Fprintf(&sb, "Prefix length:    /%d\n", i.PrefixLength)
	fmt.Fprintf(&sb, "Host bits:        %d\n", i.HostBits)
	fmt.Fprintf(&sb, "Total addresses:  %s\n", i.TotalAddresses)
	fmt.Fprintf(&sb, "Would select:     %s endpoints (%s)\n", i.SelectionCount, i.SelectionReason)
	return sb.String()
}
