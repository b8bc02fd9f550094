// Package seal defines the narrow encryption capability at the vault
// boundary. The vault itself only stores opaque ciphertext; sealing is
// a policy that can evolve without touching the vault's atomicity
// guarantees.
package seal

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"filippo.io/age"
)

// Sealer encrypts and decrypts blobs at the vault boundary.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// ErrSealingDisabled is returned by the Noop sealer, used when callers
// are required to pre-encrypt their blobs.
var ErrSealingDisabled = errors.New("sealing_disabled")

// Noop passes blobs through unchanged on Seal and refuses Open.
type Noop struct{}

func (Noop) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (Noop) Open([]byte) ([]byte, error) { return nil, ErrSealingDisabled }

// AgeSealer seals blobs with an age X25519 identity held by the server.
type AgeSealer struct {
	identity *age.X25519Identity
}

// NewAgeSealer parses an AGE-SECRET-KEY identity string.
func NewAgeSealer(identity string) (*AgeSealer, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, err
	}
	return &AgeSealer{identity: parsed}, nil
}

// GenerateAgeSealer creates a sealer with a fresh identity. The
// identity string must be persisted by the operator or sealed blobs
// become unrecoverable.
func GenerateAgeSealer() (*AgeSealer, string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", err
	}
	return &AgeSealer{identity: identity}, identity.String(), nil
}

func (s *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *AgeSealer) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
