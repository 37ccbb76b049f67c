// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic signing and hashing of protocol artifacts.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json (so struct tags are respected),
// then transformed to its canonical form: keys sorted by UTF-8 bytes, no
// HTML escaping, ES6 number formatting.
func Bytes(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON representation of v.
func Hash(v interface{}) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns it hex-encoded.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
