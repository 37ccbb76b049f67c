// Package crypto provides the signing and verification primitives backing
// mandate proofs. Keys are Ed25519; public keys and signatures travel as
// hex strings.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// AlgorithmEd25519 is the signature algorithm identifier recorded in proofs.
const AlgorithmEd25519 = "ed25519"

// KeyPair holds a freshly generated signing key pair. The private key is
// intended for single use at mandate creation and must not be persisted.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// PublicKeyHex returns the hex encoding of the public key.
func (kp KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Public)
}

// GenerateKeyPair produces a new Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("key generation failed: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs data with the private key and returns the hex-encoded signature.
func Sign(priv ed25519.PrivateKey, data []byte) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key size: %d", len(priv))
	}
	return hex.EncodeToString(ed25519.Sign(priv, data)), nil
}

// Verify checks a hex signature over data against a hex public key.
// It returns false on any malformed input and never panics; the
// authorization path depends on that.
func Verify(pubKeyHex, sigHex string, data []byte) bool {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig)
}
