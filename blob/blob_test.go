// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package blob_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fido-device-onboard/go-ctap2-core/blob"
)

type memStorage struct {
	data []byte
}

func (s *memStorage) Load() ([]byte, error) { return s.data, nil }
func (s *memStorage) Store(b []byte) error  { s.data = append([]byte(nil), b...); return nil }

func randBytes(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func TestLoadFirstBootResets(t *testing.T) {
	store := &memStorage{}
	mgr := blob.NewManager(store, randBytes)

	pb, err := mgr.Load()
	require.NoError(t, err)
	require.NotEmpty(t, store.data, "reset must write back")
	require.Equal(t, uint8(blob.DefaultRetries), pb.Meta.PinRetries)

	key := blob.DeriveKey(pb.Meta.Salt, blob.HashPIN(blob.DefaultPIN))
	secret, err := mgr.DecryptSecret(pb, key)
	require.NoError(t, err)
	require.Equal(t, uint8(len(blob.DefaultPIN)), secret.PinLength)
	require.Equal(t, uint32(0), secret.SignCounter)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := &memStorage{}
	mgr := blob.NewManager(store, randBytes)

	pb, err := mgr.Load()
	require.NoError(t, err)
	key := blob.DeriveKey(pb.Meta.Salt, blob.HashPIN(blob.DefaultPIN))

	secret, err := mgr.DecryptSecret(pb, key)
	require.NoError(t, err)

	before := pb.Meta.NonceCounter
	secret.SignCounter = 41
	require.NoError(t, mgr.Commit(pb, secret, key))
	require.NotEqual(t, before, pb.Meta.NonceCounter, "nonce must strictly advance on every commit")

	reloaded, err := mgr.DecryptSecret(pb, key)
	require.NoError(t, err)
	require.Equal(t, uint32(41), reloaded.SignCounter)
}

func TestCommitNonceStrictlyIncreases(t *testing.T) {
	store := &memStorage{}
	mgr := blob.NewManager(store, randBytes)
	pb, err := mgr.Load()
	require.NoError(t, err)
	key := blob.DeriveKey(pb.Meta.Salt, blob.HashPIN(blob.DefaultPIN))

	secret, err := mgr.DecryptSecret(pb, key)
	require.NoError(t, err)

	var seen [][blob.NonceSize]byte
	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.Commit(pb, secret, key))
		seen = append(seen, pb.Meta.NonceCounter)
	}
	for i := 1; i < len(seen); i++ {
		require.NotEqual(t, seen[i-1], seen[i])
	}
}

func TestResetPreservesNonceAndRollsSalt(t *testing.T) {
	store := &memStorage{}
	mgr := blob.NewManager(store, randBytes)
	pb, err := mgr.Load()
	require.NoError(t, err)
	key := blob.DeriveKey(pb.Meta.Salt, blob.HashPIN(blob.DefaultPIN))
	secret, err := mgr.DecryptSecret(pb, key)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(pb, secret, key))

	oldSalt := pb.Meta.Salt
	carried := pb.Meta.NonceCounter

	reset, err := mgr.Reset(carried)
	require.NoError(t, err)
	require.NotEqual(t, oldSalt, reset.Meta.Salt, "reset must roll a fresh salt")
	require.Equal(t, carried, reset.Meta.NonceCounter, "reset must carry the pre-reset nonce forward")
}

func TestNonceWrapRefusesToWrite(t *testing.T) {
	store := &memStorage{}
	mgr := blob.NewManager(store, randBytes)
	pb, err := mgr.Load()
	require.NoError(t, err)
	key := blob.DeriveKey(pb.Meta.Salt, blob.HashPIN(blob.DefaultPIN))
	secret, err := mgr.DecryptSecret(pb, key)
	require.NoError(t, err)

	for i := range pb.Meta.NonceCounter {
		pb.Meta.NonceCounter[i] = 0xFF
	}
	err = mgr.Commit(pb, secret, key)
	require.Error(t, err)
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	store := &memStorage{}
	mgr := blob.NewManager(store, randBytes)
	pb, err := mgr.Load()
	require.NoError(t, err)

	wrongKey := blob.DeriveKey(pb.Meta.Salt, blob.HashPIN("not-the-pin"))
	_, err = mgr.DecryptSecret(pb, wrongKey)
	require.Error(t, err)
}
