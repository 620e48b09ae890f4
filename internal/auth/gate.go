// Package auth holds the identity-proof gate for privileged game actions
// and the API key check used at the transport layer.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrProofRejected covers every way a proof can fail: malformed token,
// failed decryption, or an identity that is not among the allowed ones.
// Callers must not distinguish between these cases.
var ErrProofRejected = errors.New("proof rejected")

// Gate verifies encrypted identity proofs. A proof is a ChaCha20-Poly1305
// sealed identity string, base64 encoded with the nonce prepended.
type Gate struct {
	key []byte
}

// NewGate creates a gate from a 32-byte secret key.
func NewGate(key []byte) (*Gate, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("proof key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	gate := &Gate{key: make([]byte, len(key))}
	copy(gate.key, key)

	return gate, nil
}

// Seal encrypts an identity into a proof token. Used by the account service
// that hands tokens to clients, and by tests.
func (g *Gate) Seal(identity string) (string, error) {
	aead, err := chacha20poly1305.New(g.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(identity), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a proof token back into the identity it carries.
func (g *Gate) Open(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrProofRejected
	}

	aead, err := chacha20poly1305.New(g.key)
	if err != nil {
		return "", err
	}

	if len(raw) < aead.NonceSize() {
		return "", ErrProofRejected
	}

	identity, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", ErrProofRejected
	}

	return string(identity), nil
}

// Verify opens a proof and checks the identity against the allowed set.
// Returns the identity on success and ErrProofRejected otherwise.
func (g *Gate) Verify(token string, allowed ...string) (string, error) {
	identity, err := g.Open(token)
	if err != nil {
		return "", err
	}

	for _, name := range allowed {
		if name != "" && identity == name {
			return identity, nil
		}
	}

	return "", ErrProofRejected
}
