// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package pinuv implements the PIN/UV auth-token state machine of
// spec.md §4.C: ECDH key agreement (protocol v2 only), shared-secret
// derivation, token issuance, the polled usage-timer, permission bits,
// and RP-ID binding. It is the one piece of process-wide mutable state in
// the authenticator (spec.md §9); callers running concurrent dispatch
// must guard it with a mutex held for the whole handler.
package pinuv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Permission bits, spec.md §3.
const (
	PermMC    uint8 = 1 << 0
	PermGA    uint8 = 1 << 1
	PermCM    uint8 = 1 << 2
	PermBE    uint8 = 1 << 3
	PermLBW   uint8 = 1 << 4
	PermACFG  uint8 = 1 << 5
	// PermConsumed is the sentinel getAssertion sets after a successful
	// assertion to mark the token as "spent but not yet expired".
	PermConsumed uint8 = PermLBW
)

const (
	maxUsagePeriod     = 600 * time.Second
	userPresentTimeout = 30 * time.Second
)

// RandBytes fills buf with cryptographically secure random bytes.
type RandBytes func(buf []byte) error

// Token holds the process-local, RAM-only PIN/UV auth-token state.
// Protocol v2 only; a caller that observes protocol != 2 must reject the
// request with ctap1_err_invalid_parameter before touching Token at all.
type Token struct {
	rand RandBytes

	platformKey *ecdh.PrivateKey

	pinToken [32]byte
	pinKey   *[32]byte

	permissions uint8
	rpID        string
	inUse       bool

	userPresent  bool
	userVerified bool

	initialUsageTime time.Time
	rollingTimer     time.Time
}

// New constructs a Token and immediately Initializes it.
func New(rand RandBytes) (*Token, error) {
	t := &Token{rand: rand}
	if err := t.Initialize(); err != nil {
		return nil, err
	}
	return t, nil
}

// Initialize generates a fresh ephemeral P-256 keypair and zeroes
// permissions, rp_id, and in_use. Called once at boot.
func (t *Token) Initialize() error {
	key, err := ecdh.P256().GenerateKey(randReader{t.rand})
	if err != nil {
		return fmt.Errorf("pinuv: generating platform keypair: %w", err)
	}
	t.platformKey = key
	t.permissions = 0
	t.rpID = ""
	t.inUse = false
	t.userPresent = false
	t.userVerified = false
	return nil
}

// Regenerate replaces the ephemeral ECDH keypair. Called whenever a PIN
// attempt fails.
func (t *Token) Regenerate() error {
	key, err := ecdh.P256().GenerateKey(randReader{t.rand})
	if err != nil {
		return fmt.Errorf("pinuv: regenerating platform keypair: %w", err)
	}
	t.platformKey = key
	return nil
}

// ResetToken fills pin_token with 32 fresh random bytes, invalidating any
// previously issued token for verification purposes.
func (t *Token) ResetToken() error {
	return t.rand(t.pinToken[:])
}

// COSEKey is the fixed EC2/P-256 COSE_Key shape needed for the platform's
// ephemeral public key (alg = ECDH-ES+HKDF-256 = -25).
type COSEKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Alg int64  `cbor:"3,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

const (
	coseKtyEC2        = 2
	coseCrvP256       = 1
	coseAlgECDHESHKDF = -25
)

// GetPublicKey encodes the platform ephemeral public key as a COSE EC2 key.
func (t *Token) GetPublicKey() COSEKey {
	raw := t.platformKey.PublicKey().Bytes() // uncompressed: 0x04 || X || Y
	x, y := raw[1:33], raw[33:65]
	return COSEKey{Kty: coseKtyEC2, Alg: coseAlgECDHESHKDF, Crv: coseCrvP256, X: x, Y: y}
}

// SharedSecret is the 64-byte shared secret derived by ECDH: 32 bytes of
// AES key followed by 32 bytes of HMAC key.
type SharedSecret [64]byte

// AESKey returns the first 32 bytes of the shared secret.
func (s SharedSecret) AESKey() []byte { return s[:32] }

// HMACKey returns the last 32 bytes of the shared secret.
func (s SharedSecret) HMACKey() []byte { return s[32:] }

// ECDH computes Z = ECDH(platform private key, peer), then derives the
// shared secret as HKDF-Extract(32 zero bytes, Z) ‖ HKDF-Expand("CTAP2
// HMAC key", 32).
func (t *Token) ECDH(peer COSEKey) (SharedSecret, error) {
	var out SharedSecret
	if peer.Kty != coseKtyEC2 || peer.Crv != coseCrvP256 {
		return out, errors.New("pinuv: peer key is not a P-256 EC2 key")
	}
	raw := make([]byte, 0, 65)
	raw = append(raw, 0x04)
	raw = append(raw, peer.X...)
	raw = append(raw, peer.Y...)
	peerKey, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return out, fmt.Errorf("pinuv: parsing peer key: %w", err)
	}
	z, err := t.platformKey.ECDH(peerKey)
	if err != nil {
		return out, fmt.Errorf("pinuv: computing ECDH: %w", err)
	}

	var zero [32]byte
	prk := hkdf.Extract(sha256.New, z, zero[:])
	copy(out[:32], prk)

	expander := hkdf.Expand(sha256.New, prk, []byte("CTAP2 HMAC key"))
	if _, err := expander.Read(out[32:]); err != nil {
		return out, fmt.Errorf("pinuv: expanding hmac key: %w", err)
	}
	return out, nil
}

// Encrypt performs AES-256-CBC with the supplied 16-byte IV, returning
// IV‖ciphertext. plain's length must be a multiple of the AES block size;
// callers pad before calling, per the CTAP2.1 pinUvAuthToken encoding.
func Encrypt(iv [16]byte, key []byte, plain []byte) ([]byte, error) {
	if len(plain)%aes.BlockSize != 0 {
		return nil, errors.New("pinuv: plaintext is not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pinuv: building cipher: %w", err)
	}
	out := make([]byte, 16+len(plain))
	copy(out[:16], iv[:])
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out[16:], plain)
	return out, nil
}

// Decrypt splits ct into a 16-byte IV followed by the ciphertext body and
// decrypts with shared's AES key.
func Decrypt(shared SharedSecret, ct []byte) ([]byte, error) {
	if len(ct) < 16 || (len(ct)-16)%aes.BlockSize != 0 {
		return nil, errors.New("pinuv: ciphertext malformed")
	}
	iv, body := ct[:16], ct[16:]
	block, err := aes.NewCipher(shared.AESKey())
	if err != nil {
		return nil, fmt.Errorf("pinuv: building cipher: %w", err)
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return out, nil
}

// Verify computes HMAC-SHA256(hmacKey, msg)[:16] and compares it to tag in
// constant time.
func Verify(hmacKey []byte, msg []byte, tag []byte) bool {
	if len(tag) != 16 {
		return false
	}
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(msg)
	sum := mac.Sum(nil)
	return hmac.Equal(sum[:16], tag)
}

// BeginUsing marks the token in_use, records the clock used for both
// timers, and sets the initial user-verified/user-present flags.
func (t *Token) BeginUsing(uv bool, now time.Time) {
	t.inUse = true
	t.initialUsageTime = now
	t.rollingTimer = now
	t.userVerified = uv
	t.userPresent = false
}

// TimerObserver is polled once before every command. If the rolling timer
// has exceeded the user-present window, user_present is cleared. If the
// token has exceeded its total usage period, it is fully expired: in_use,
// permissions, and rp_id are cleared.
func (t *Token) TimerObserver(now time.Time) {
	if !t.inUse {
		return
	}
	if now.Sub(t.rollingTimer) > userPresentTimeout {
		t.userPresent = false
	}
	if now.Sub(t.initialUsageTime) > maxUsagePeriod {
		t.inUse = false
		t.permissions = 0
		t.rpID = ""
	}
}

// GetUserVerifiedFlag reports whether the token is both in use and was
// verified.
func (t *Token) GetUserVerifiedFlag() bool { return t.inUse && t.userVerified }

// InUse reports whether the token currently holds a valid grant.
func (t *Token) InUse() bool { return t.inUse }

// Permissions returns the token's permission bitmask.
func (t *Token) Permissions() uint8 { return t.permissions }

// SetPermissions sets the token's permission bitmask.
func (t *Token) SetPermissions(p uint8) { t.permissions = p }

// RPID returns the RP ID the token is bound to, or "" if unbound.
func (t *Token) RPID() string { return t.rpID }

// BindRPID binds the token to rpID. Per SPEC_FULL.md §4.E, this is called
// on first use when the token is not yet bound; subsequent calls with a
// different rpID are the caller's responsibility to reject.
func (t *Token) BindRPID(rpID string) { t.rpID = rpID }

// UserPresent reports the current user-present flag.
func (t *Token) UserPresent() bool { return t.userPresent }

// SetUserPresent sets the user-present flag, e.g. after a fresh UP prompt.
func (t *Token) SetUserPresent(v bool) { t.userPresent = v }

// Consume clears user_present and user_verified and sets permissions to
// the "consumed" sentinel, per getAssertion's post-success policy.
func (t *Token) Consume() {
	t.userPresent = false
	t.userVerified = false
	t.permissions = PermConsumed
}

// PinToken returns a copy of the current 32-byte token secret.
func (t *Token) PinToken() [32]byte { return t.pinToken }

// randReader adapts a RandBytes callback to io.Reader for crypto/ecdh.
type randReader struct{ fn RandBytes }

func (r randReader) Read(p []byte) (int, error) {
	if err := r.fn(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
