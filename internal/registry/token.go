package registry

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// mintToken returns a fresh 256-bit per-machine secret, hex encoded.
func mintToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// tokenEqual compares tokens in constant time.
func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// disambiguate appends a short random suffix to a contested display
// name. The suffix shape ("-" + 8 hex chars) is what
// match.DisambiguatedFrom recognizes.
func disambiguate(name string) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("disambiguate name: %w", err)
	}
	return name + "-" + hex.EncodeToString(b[:]), nil
}
