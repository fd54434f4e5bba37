package cidr

import (
	"fmt"
	"math/big"
	"net/netip"
	"strconv"
	"strings"

	"github.com/klp2/cfprobe/internal/config"
)

// plan is one parsed CIDR line: its network, an optional port override, and
// the number of hosts to select from it.
type plan struct {
	prefix      netip.Prefix
	port        uint16
	cardinality *big.Int // how many endpoints to emit from this CIDR
	hostBits    int
}

// stripComment removes a trailing "#" or "//" comment from a line.
func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// splitFields breaks the raw text buffer into comma- and newline-separated
// tokens, stripping comments and blank entries.
func splitFields(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = stripComment(line)
		if line == "" {
			continue
		}
		for _, tok := range strings.Split(line, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// parseToken parses one "cidr", "cidr:port", "host:port" (v4) or
// "[host]:port" (v6) token into a network prefix and optional port.
// Bare IPs are treated as /32 or /128. Invalid tokens return an error so the
// caller can skip them silently, per spec.md §4.1.
func parseToken(tok string) (netip.Prefix, uint16, error) {
	var port uint16
	body := tok

	if strings.HasPrefix(tok, "[") {
		// [host]:port or [host]/prefix
		end := strings.IndexByte(tok, ']')
		if end < 0 {
			return netip.Prefix{}, 0, fmt.Errorf("malformed bracketed address: %s", tok)
		}
		host := tok[1:end]
		rest := tok[end+1:]
		body = host
		if strings.HasPrefix(rest, ":") {
			p, err := strconv.ParseUint(rest[1:], 10, 16)
			if err != nil {
				return netip.Prefix{}, 0, fmt.Errorf("bad port in %s: %w", tok, err)
			}
			port = uint16(p)
		} else if strings.HasPrefix(rest, "/") {
			body = host + rest
		}
	} else if strings.Count(tok, ":") == 1 {
		// host:port or cidr:port form, only valid for v4 (v6 needs brackets)
		parts := strings.SplitN(tok, ":", 2)
		p, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return netip.Prefix{}, 0, fmt.Errorf("bad port in %s: %w", tok, err)
		}
		body = parts[0]
		port = uint16(p)
	}

	if !strings.Contains(body, "/") {
		addr, err := netip.ParseAddr(body)
		if err != nil {
			return netip.Prefix{}, 0, fmt.Errorf("invalid address %q: %w", body, err)
		}
		bits := 32
		if addr.Is6() {
			bits = 128
		}
		return netip.PrefixFrom(addr, bits), port, nil
	}

	prefix, err := netip.ParsePrefix(body)
	if err != nil {
		return netip.Prefix{}, 0, fmt.Errorf("invalid CIDR %q: %w", body, err)
	}
	return prefix, port, nil
}

// heuristicCardinality implements spec.md §3's default selection rules: a
// v4 default samples every 64th host; v6 uses the named mode's preset.
func heuristicCardinality(prefix netip.Prefix, hostBits int, cfg config.RunConfig) *big.Int {
	if prefix.Addr().Is4() {
		if cfg.IPv4Amount > 0 {
			return big.NewInt(cfg.IPv4Amount)
		}
		total := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
		every64 := new(big.Int).Div(total, big.NewInt(64))
		if every64.Sign() == 0 {
			every64 = big.NewInt(1)
		}
		return every64
	}
	if cfg.IPv6Amount > 0 {
		return big.NewInt(cfg.IPv6Amount)
	}
	return big.NewInt(cfg.IPv6Mode.CardinalityFor())
}

// buildPlans parses the input buffer into a slice of plans with cardinality
// already computed, and applies the global proportional cap.
func buildPlans(text string, cfg config.RunConfig) []plan {
	var plans []plan
	for _, tok := range splitFields(text) {
		prefix, port, err := parseToken(tok)
		if err != nil {
			continue // invalid lines are skipped silently, per spec.md §4.1
		}
		_, hostBitsFull := networkBase(prefix)
		hostBits := hostBitsFull

		total := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))

		var card *big.Int
		switch {
		case prefix.Bits() == 32 && prefix.Addr().Is4(), prefix.Bits() == 128 && prefix.Addr().Is6():
			card = big.NewInt(1)
		case cfg.TestAll:
			card = new(big.Int).Set(total)
		default:
			card = heuristicCardinality(prefix, hostBits, cfg)
			if card.Cmp(total) > 0 {
				card = new(big.Int).Set(total)
			}
			if card.Sign() < 1 {
				card = big.NewInt(1)
			}
		}

		plans = append(plans, plan{prefix: prefix, port: port, cardinality: card, hostBits: hostBits})
	}

	applyGlobalCap(plans, cfg.MaxIPCount)
	return plans
}

// applyGlobalCap scales every plan's cardinality proportionally, in place,
// if the sum exceeds cap. Each cardinality floors to a minimum of 1.
func applyGlobalCap(plans []plan, cap int64) {
	if cap <= 0 || len(plans) == 0 {
		return
	}
	sum := new(big.Int)
	for _, p := range plans {
		sum.Add(sum, p.cardinality)
	}
	capBig := big.NewInt(cap)
	if sum.Cmp(capBig) <= 0 {
		return
	}
	for i := range plans {
		// scaled = cardinality * cap / sum, floored, minimum 1.
		scaled := new(big.Int).Mul(plans[i].cardinality, capBig)
		scaled.Div(scaled, sum)
		if scaled.Sign() < 1 {
			scaled = big.NewInt(1)
		}
		plans[i].cardinality = scaled
	}
}
