// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package pinuv_test

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fido-device-onboard/go-ctap2-core/pinuv"
)

func randBytes(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func TestECDHRoundTrip(t *testing.T) {
	platform, err := pinuv.New(randBytes)
	require.NoError(t, err)

	peer, err := pinuv.New(randBytes)
	require.NoError(t, err)

	sharedA, err := platform.ECDH(peer.GetPublicKey())
	require.NoError(t, err)
	sharedB, err := peer.ECDH(platform.GetPublicKey())
	require.NoError(t, err)
	require.Equal(t, sharedA, sharedB, "both sides must derive the same shared secret")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	platform, err := pinuv.New(randBytes)
	require.NoError(t, err)
	peer, err := pinuv.New(randBytes)
	require.NoError(t, err)
	shared, err := platform.ECDH(peer.GetPublicKey())
	require.NoError(t, err)

	plain := make([]byte, 32)
	_, err = rand.Read(plain)
	require.NoError(t, err)

	var iv [16]byte
	_, err = rand.Read(iv[:])
	require.NoError(t, err)

	ct, err := pinuv.Encrypt(iv, shared.AESKey(), plain)
	require.NoError(t, err)

	got, err := pinuv.Decrypt(shared, ct)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestVerify(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	msg := []byte("hello world")
	mac := computeHMAC(key, msg)
	require.True(t, pinuv.Verify(key, msg, mac))
	require.False(t, pinuv.Verify(key, []byte("tampered"), mac))
}

func TestBeginUsingAndConsume(t *testing.T) {
	tok, err := pinuv.New(randBytes)
	require.NoError(t, err)

	now := time.Now()
	tok.BeginUsing(true, now)
	require.True(t, tok.InUse())
	require.True(t, tok.GetUserVerifiedFlag())
	require.False(t, tok.UserPresent())

	tok.SetUserPresent(true)
	tok.Consume()
	require.False(t, tok.UserPresent())
	require.False(t, tok.GetUserVerifiedFlag())
	require.Equal(t, pinuv.PermConsumed, tok.Permissions())
}

func TestTimerObserverExpiresToken(t *testing.T) {
	tok, err := pinuv.New(randBytes)
	require.NoError(t, err)

	start := time.Now()
	tok.BeginUsing(true, start)
	tok.SetPermissions(pinuv.PermMC)
	tok.BindRPID("example.com")

	tok.TimerObserver(start.Add(601 * time.Second))
	require.False(t, tok.InUse())
	require.Equal(t, uint8(0), tok.Permissions())
	require.Equal(t, "", tok.RPID())
}

func TestTimerObserverClearsUserPresent(t *testing.T) {
	tok, err := pinuv.New(randBytes)
	require.NoError(t, err)

	start := time.Now()
	tok.BeginUsing(true, start)
	tok.SetUserPresent(true)

	tok.TimerObserver(start.Add(31 * time.Second))
	require.False(t, tok.UserPresent())
	require.True(t, tok.InUse(), "only the present flag decays at 30s, not the whole token")
}

func TestResetTokenInvalidatesPriorTokenValue(t *testing.T) {
	tok, err := pinuv.New(randBytes)
	require.NoError(t, err)
	before := tok.PinToken()
	require.NoError(t, tok.ResetToken())
	require.NotEqual(t, before, tok.PinToken())
}

func computeHMAC(key, msg []byte) []byte {
	// Local, independent HMAC computation so the test doesn't just call
	// back into the code under test.
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	sum := h.Sum(nil)
	return sum[:16]
}
