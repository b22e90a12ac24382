package crypt

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	master := make([]byte, KeySize)
	_, err := rand.Read(master)
	require.NoError(t, err)
	keyring, err := NewKeyring(map[uint8][]byte{1: master}, 1)
	require.NoError(t, err)
	return NewEngine(keyring)
}

func TestSealOpenRoundTrip(t *testing.T) {
	engine := testEngine(t)
	aad := TenantAAD("tenant-a")

	plaintexts := [][]byte{
		[]byte("hello"),
		[]byte(""),
		bytes.Repeat([]byte{0xff}, 8192),
		{0x00},
	}
	for _, plaintext := range plaintexts {
		envelope, err := engine.Seal(plaintext, aad)
		require.NoError(t, err)

		opened, err := engine.Open(envelope, aad)
		require.NoError(t, err)
		// An empty plaintext still comes back as a non-nil slice.
		require.NotNil(t, opened)
		assert.Equal(t, plaintext, opened)
	}
}

func TestOpenRejectsMismatchedAAD(t *testing.T) {
	engine := testEngine(t)

	envelope, err := engine.Seal([]byte("secret"), TenantAAD("tenant-a"))
	require.NoError(t, err)

	_, err = engine.Open(envelope, TenantAAD("tenant-b"))
	require.ErrorIs(t, err, ErrDecryptFailed)

	// Chunk-level binding: same tenant, different chunk must also fail.
	envelope, err = engine.Seal([]byte("secret"), ChunkAAD("tenant-a", "c1"))
	require.NoError(t, err)
	_, err = engine.Open(envelope, ChunkAAD("tenant-a", "c2"))
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsAnySingleBitFlip(t *testing.T) {
	engine := testEngine(t)
	aad := TenantAAD("tenant-a")

	envelope, err := engine.Seal([]byte("tamper me"), aad)
	require.NoError(t, err)

	// Byte 0 is the key version: flipping it yields either an unknown
	// version or an authentication failure, never plaintext.
	for i := range envelope {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(envelope))
			copy(mutated, envelope)
			mutated[i] ^= 1 << bit

			plaintext, err := engine.Open(mutated, aad)
			require.Error(t, err, "flip byte %d bit %d", i, bit)
			assert.Nil(t, plaintext)
			assert.True(t, errors.Is(err, ErrDecryptFailed) || errors.Is(err, ErrUnknownKeyVersion))
		}
	}
}

func TestSealNeverRepeatsEnvelopes(t *testing.T) {
	engine := testEngine(t)
	aad := TenantAAD("tenant-a")
	plaintext := []byte("same input")

	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		envelope, err := engine.Seal(plaintext, aad)
		require.NoError(t, err)
		require.False(t, seen[string(envelope)], "nonce reuse detected")
		seen[string(envelope)] = true
	}
}

func TestOpenRejectsTruncatedEnvelope(t *testing.T) {
	engine := testEngine(t)
	aad := TenantAAD("tenant-a")

	envelope, err := engine.Seal([]byte("short"), aad)
	require.NoError(t, err)

	for _, n := range []int{0, 1, envelopeHeader, minEnvelopeLen - 1} {
		_, err := engine.Open(envelope[:n], aad)
		require.ErrorIs(t, err, ErrDecryptFailed)
	}
}

func TestKeyRotationOldVersionsStillOpen(t *testing.T) {
	k1 := make([]byte, KeySize)
	k2 := make([]byte, KeySize)
	_, err := rand.Read(k1)
	require.NoError(t, err)
	_, err = rand.Read(k2)
	require.NoError(t, err)

	oldRing, err := NewKeyring(map[uint8][]byte{1: k1}, 1)
	require.NoError(t, err)
	envelope, err := NewEngine(oldRing).Seal([]byte("rotate"), TenantAAD("t"))
	require.NoError(t, err)

	// After rotation both versions are configured, v2 is active.
	newRing, err := NewKeyring(map[uint8][]byte{1: k1, 2: k2}, 2)
	require.NoError(t, err)
	engine := NewEngine(newRing)

	opened, err := engine.Open(envelope, TenantAAD("t"))
	require.NoError(t, err)
	assert.Equal(t, []byte("rotate"), opened)

	fresh, err := engine.Seal([]byte("rotate"), TenantAAD("t"))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), fresh[0])

	// A keyring holding only v2 cannot open v1 envelopes.
	v2Only, err := NewKeyring(map[uint8][]byte{2: k2}, 2)
	require.NoError(t, err)
	_, err = NewEngine(v2Only).Open(envelope, TenantAAD("t"))
	require.ErrorIs(t, err, ErrUnknownKeyVersion)
}
