// Package ipcidr implements the pure value-type IPv4 and CIDR arithmetic
// the allocator builds on: parsing, stringification, range splitting, and
// the two directional one-sided differences used to carve free address
// space out of a private pool.
package ipcidr

import (
	"fmt"
	"strconv"
	"strings"
)

// IP wraps an IPv4 address as a 32-bit unsigned integer.
type IP uint32

// NewIP builds an IP from four octets.
func NewIP(a, b, c, d byte) IP {
	return IP(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d))
}

// ParseIP parses a dotted-quad string into an IP.
func ParseIP(s string) (IP, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("ipcidr: invalid IPv4 address %q", s)
	}
	var octets [4]byte
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, fmt.Errorf("ipcidr: invalid octet %q in %q", p, s)
		}
		octets[i] = byte(n)
	}
	return NewIP(octets[0], octets[1], octets[2], octets[3]), nil
}

// Octets returns the four bytes of the address, most significant first.
func (ip IP) Octets() (a, b, c, d byte) {
	v := uint32(ip)
	return byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)
}

// String renders the address in dotted-quad form.
func (ip IP) String() string {
	a, b, c, d := ip.Octets()
	return fmt.Sprintf("%d.%d.%d.%d", a, b, c, d)
}

// Uint32 returns the address as its 32-bit integer representation.
func (ip IP) Uint32() uint32 { return uint32(ip) }

// FromUint32 builds an IP from its 32-bit integer representation.
func FromUint32(v uint32) IP { return IP(v) }
