package driver

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// generateKeyPairLibrary derives a WireGuard-compatible key pair without
// shelling out to wg, the way the teacher's WireGuardKeyGenerator does.
// The mock driver uses this so that tests get real, valid key material
// without depending on the wg binary being installed.
func generateKeyPairLibrary() (privateKey, publicKey string, err error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return "", "", fmt.Errorf("driver: generate key pair: %w", err)
	}

	// Clamp per the WireGuard/Curve25519 private-key convention.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	return encodeKey(priv[:]), encodeKey(pub[:]), nil
}

func encodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeKey(s string) (*[32]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("driver: decode key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("driver: decode key: want 32 bytes, got %d", len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}
