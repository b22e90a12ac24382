package crypt

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// TenantDeriver maps external identities to opaque tenant handles using a
// keyed BLAKE2b-256 MAC. The derivation key is distinct from the encryption
// keys: compromising ciphertext never yields the identity mapping, and
// vice versa.
type TenantDeriver struct {
	key []byte
}

// NewTenantDeriver creates a TenantDeriver from a 32-byte derivation key.
func NewTenantDeriver(key []byte) (*TenantDeriver, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("derivation key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TenantDeriver{key: k}, nil
}

// Derive returns the tenant handle for an external identity. The mapping is
// deterministic and, without the key, handles are indistinguishable from
// random.
func (d *TenantDeriver) Derive(identity string) (string, error) {
	if identity == "" {
		return "", errors.New("identity cannot be empty")
	}
	mac, err := blake2b.New256(d.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to construct keyed hash")
	}
	mac.Write([]byte(identity))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
