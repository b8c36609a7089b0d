// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package credential_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fido-device-onboard/go-ctap2-core/credential"
)

func randBytes(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func randMaster(t *testing.T) []byte {
	t.Helper()
	m := make([]byte, 32)
	_, err := rand.Read(m)
	require.NoError(t, err)
	return m
}

func TestMakeAndVerifyCredID(t *testing.T) {
	master := randMaster(t)
	ctx, err := credential.NewContext(randBytes)
	require.NoError(t, err)

	id := credential.MakeCredID(master, ctx, "example.com")
	require.Len(t, id, credential.IDSize)
	require.True(t, credential.VerifyCredID(master, id[:], "example.com"))
	require.False(t, credential.VerifyCredID(master, id[:], "other.com"))
}

func TestVerifyCredIDRejectsWrongLength(t *testing.T) {
	master := randMaster(t)
	require.False(t, credential.VerifyCredID(master, make([]byte, 63), "example.com"))
	require.False(t, credential.VerifyCredID(master, make([]byte, 65), "example.com"))
}

func TestVerifyCredIDRejectsFabricatedMAC(t *testing.T) {
	master := randMaster(t)
	var id [credential.IDSize]byte
	// Context is arbitrary; the trailing 32 bytes ("MAC") are left zero,
	// matching spec.md §8's fabricated-credential-id scenario.
	_, _ = rand.Read(id[:credential.ContextSize])
	require.False(t, credential.VerifyCredID(master, id[:], "example.com"))
}

func TestDeriveKeypairIsDeterministic(t *testing.T) {
	master := randMaster(t)
	ctx, err := credential.NewContext(randBytes)
	require.NoError(t, err)

	kp1, err := credential.DeriveKeypair(master, ctx)
	require.NoError(t, err)
	kp2, err := credential.DeriveKeypair(master, ctx)
	require.NoError(t, err)

	require.Equal(t, kp1.Private.PublicKey.X, kp2.Private.PublicKey.X)
	require.Equal(t, kp1.Private.PublicKey.Y, kp2.Private.PublicKey.Y)

	otherCtx, err := credential.NewContext(randBytes)
	require.NoError(t, err)
	kp3, err := credential.DeriveKeypair(master, otherCtx)
	require.NoError(t, err)
	require.NotEqual(t, kp1.Private.PublicKey.X, kp3.Private.PublicKey.X)
}

func TestSignAndVerify(t *testing.T) {
	master := randMaster(t)
	ctx, err := credential.NewContext(randBytes)
	require.NoError(t, err)
	kp, err := credential.DeriveKeypair(master, ctx)
	require.NoError(t, err)

	authData := []byte("authenticator-data")
	clientDataHash := []byte("client-data-hash-32-bytes-long!")

	sig, err := credential.Sign(randBytes, kp, authData, clientDataHash)
	require.NoError(t, err)

	digest := sha256.Sum256(append(append([]byte{}, authData...), clientDataHash...))
	require.True(t, ecdsa.VerifyASN1(&kp.Private.PublicKey, digest[:], sig))
}

func TestIsValidAlgorithm(t *testing.T) {
	require.True(t, credential.IsValidAlgorithm(-7))
	require.False(t, credential.IsValidAlgorithm(-35))
	require.False(t, credential.IsValidAlgorithm(-257))
}

func TestCOSEPublicKeyFixedFieldSize(t *testing.T) {
	master := randMaster(t)
	ctx, err := credential.NewContext(randBytes)
	require.NoError(t, err)
	kp, err := credential.DeriveKeypair(master, ctx)
	require.NoError(t, err)

	key := credential.COSEPublicKey(kp)
	require.Len(t, key.X, 32)
	require.Len(t, key.Y, 32)
	require.EqualValues(t, -7, key.Alg)
}
