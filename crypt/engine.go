// Package crypt implements the tenant-bound encryption layer: a keyed
// derivation of opaque tenant handles and authenticated encryption of chunk
// payloads bound to their owning tenant via associated data.
package crypt

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of master and derived keys in bytes.
	KeySize = chacha20poly1305.KeySize

	// envelope layout: 1-byte key version || 24-byte nonce || ciphertext+tag
	nonceSize      = chacha20poly1305.NonceSizeX
	envelopeHeader = 1 + nonceSize
	minEnvelopeLen = envelopeHeader + chacha20poly1305.Overhead
)

var (
	// ErrDecryptFailed is returned when an envelope fails authentication.
	// The cause (tamper, wrong tenant, truncation) is deliberately not
	// distinguishable from the error value.
	ErrDecryptFailed = errors.New("decryption failed: envelope authentication error")

	// ErrUnknownKeyVersion is returned when an envelope references a key
	// version the keyring does not hold.
	ErrUnknownKeyVersion = errors.New("unknown encryption key version")
)

// Engine performs authenticated encryption of chunk payloads.
// It is safe for concurrent use; the keyring is immutable after creation.
type Engine struct {
	keyring *Keyring
}

// NewEngine creates an Engine over the given keyring.
func NewEngine(keyring *Keyring) *Engine {
	return &Engine{keyring: keyring}
}

// Seal encrypts plaintext bound to aad and returns the envelope
// version || nonce || ciphertext+tag. A fresh random nonce is drawn per
// call, so sealing identical plaintext twice never yields equal envelopes.
func (e *Engine) Seal(plaintext, aad []byte) ([]byte, error) {
	version, key := e.keyring.sealingKey()
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct cipher")
	}

	envelope := make([]byte, envelopeHeader, envelopeHeader+len(plaintext)+aead.Overhead())
	envelope[0] = version
	if _, err := rand.Read(envelope[1:envelopeHeader]); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	return aead.Seal(envelope, envelope[1:envelopeHeader], plaintext, aad), nil
}

// Open authenticates and decrypts an envelope produced by Seal. It fails
// with ErrDecryptFailed if any byte of the envelope or the aad differs from
// seal time; there is no partial or best-effort output path.
func (e *Engine) Open(envelope, aad []byte) ([]byte, error) {
	if len(envelope) < minEnvelopeLen {
		return nil, errors.WithStack(ErrDecryptFailed)
	}

	key, err := e.keyring.openingKey(envelope[0])
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct cipher")
	}

	plaintext, err := aead.Open(nil, envelope[1:envelopeHeader], envelope[envelopeHeader:], aad)
	if err != nil {
		return nil, errors.WithStack(ErrDecryptFailed)
	}
	if plaintext == nil {
		// aead.Open yields nil for an empty plaintext; a successful Open
		// always returns a non-nil slice.
		plaintext = []byte{}
	}
	return plaintext, nil
}

// TenantAAD returns the associated data binding a ciphertext to its tenant.
func TenantAAD(tenantHandle string) []byte {
	return []byte("memvault:tenant:" + tenantHandle)
}

// ChunkAAD returns the associated data binding a ciphertext to one chunk of
// one tenant, so an envelope cannot be replayed onto another row even within
// the same tenant.
func ChunkAAD(tenantHandle, chunkUID string) []byte {
	return []byte("memvault:tenant:" + tenantHandle + ":chunk:" + chunkUID)
}
