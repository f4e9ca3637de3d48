package registry

import (
	"crypto/rand"
	"fmt"
)

// base32Alphabet is RFC 4648's alphabet without padding, used for the
// short random suffix on an interface id.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// generateInterfaceID returns a fresh "peridio-XXXXXXX" interface id: the
// literal prefix from spec §3 followed by a 7-character base32 encoding
// of 4 random bytes.
func generateInterfaceID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("registry: generate interface id: %w", err)
	}
	return "peridio-" + encodeBase32(buf[:]), nil
}

// encodeBase32 renders b (4 bytes = 32 bits) as 7 base32 characters
// (the 32 data bits followed by 3 zero padding bits), matching the "7 characters
// from 4 random bytes" sizing spec §3 calls for.
func encodeBase32(b []byte) string {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	v <<= 3 // 32 bits -> 35 bits so it divides evenly into 7 5-bit groups
	out := make([]byte, 7)
	for i := 6; i >= 0; i-- {
		out[i] = base32Alphabet[v&0x1f]
		v >>= 5
	}
	return string(out)
}
