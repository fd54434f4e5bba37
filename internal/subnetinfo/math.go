package subnetinfo

import "math/big"

// pow2String returns 2^bits as a decimal string, using big.Int so it's
// exact even for IPv6 host-bit counts far beyond 64 bits.
func pow2String(bits int) string {
	if bits <= 0 {
		return "1"
	}
	v := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return v.String()
}

// divPow2By returns floor(2^bits / d) as a decimal string, minimum 1.
func divPow2By(bits int, d int64) string {
	if bits <= 0 {
		return "1"
	}
	v := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	v.Div(v, big.NewInt(d))
	if v.Sign() < 1 {
		return "1"
	}
	return v.String()
}
