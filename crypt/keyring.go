package crypt

import (
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// Keyring holds the versioned sealing keys. Only the active version seals
// new envelopes; every configured version can open. Keys are loaded once at
// startup and never mutated afterwards, so lookups are lock-free.
type Keyring struct {
	keys   map[uint8][]byte
	active uint8
}

// NewKeyring derives per-version AEAD keys from the configured master keys.
// The AEAD key is expanded with HKDF under a fixed purpose label so that the
// master key itself never touches ciphertext directly.
func NewKeyring(masterKeys map[uint8][]byte, active uint8) (*Keyring, error) {
	if len(masterKeys) == 0 {
		return nil, errors.New("no encryption keys configured")
	}
	if _, ok := masterKeys[active]; !ok {
		return nil, errors.Errorf("active key version %d not configured", active)
	}

	keys := make(map[uint8][]byte, len(masterKeys))
	for version, master := range masterKeys {
		if len(master) != KeySize {
			return nil, errors.Errorf("key version %d: expected %d bytes, got %d", version, KeySize, len(master))
		}
		derived := make([]byte, KeySize)
		r := hkdf.New(sha256.New, master, nil, []byte("memvault/chunk-aead/v1"))
		if _, err := io.ReadFull(r, derived); err != nil {
			return nil, errors.Wrapf(err, "failed to derive key version %d", version)
		}
		keys[version] = derived
	}

	return &Keyring{keys: keys, active: active}, nil
}

// ActiveVersion returns the version used to seal new envelopes.
func (k *Keyring) ActiveVersion() uint8 {
	return k.active
}

func (k *Keyring) sealingKey() (uint8, []byte) {
	return k.active, k.keys[k.active]
}

func (k *Keyring) openingKey(version uint8) ([]byte, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, errors.WithStack(ErrUnknownKeyVersion)
	}
	return key, nil
}
