// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package credential implements the Credential Engine of spec.md §4.D: it
// derives a per-credential ECDSA-P256 keypair from a master secret and a
// per-credential context, packages the context plus a MAC into a
// self-authenticating 64-byte credential ID, and signs
// authenticatorData‖clientDataHash for both makeCredential and
// getAssertion. The authenticator holds no per-credential storage; every
// operation here is a pure function of its inputs.
package credential

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// ContextSize is the size of the random per-credential context embedded in
// a credential ID.
const ContextSize = 32

// MACSize is the size of the credential-ID MAC.
const MACSize = 32

// IDSize is the total size of a self-authenticating credential ID.
const IDSize = ContextSize + MACSize

// ESAlgorithm is the COSE algorithm identifier this engine supports.
// CTAP2.1 requires ES256 (-7); no other algorithm is implemented, per
// spec.md §4.D "is_valid_algorithm".
const ESAlgorithm int64 = -7

var p256Order = elliptic.P256().Params().N

// RandBytes fills buf with cryptographically secure random bytes.
type RandBytes func(buf []byte) error

// NewContext returns 32 fresh random bytes to use as a new credential's
// derivation context.
func NewContext(rand RandBytes) ([ContextSize]byte, error) {
	var ctx [ContextSize]byte
	if err := rand(ctx[:]); err != nil {
		return ctx, fmt.Errorf("credential: generating context: %w", err)
	}
	return ctx, nil
}

// Keypair is a derived, never-persisted ECDSA-P256 signing key.
type Keypair struct {
	Private *ecdsa.PrivateKey
}

// DeriveKeypair deterministically derives the P-256 keypair for a given
// master secret and context: the private scalar is
// HKDF-Expand(master, "CRED"‖context, 32) reduced into [1, n-1].
func DeriveKeypair(master []byte, context [ContextSize]byte) (*Keypair, error) {
	info := append([]byte("CRED"), context[:]...)
	raw := make([]byte, 32)
	if _, err := hkdf.Expand(sha256.New, master, info).Read(raw); err != nil {
		return nil, fmt.Errorf("credential: deriving keypair: %w", err)
	}

	d := new(big.Int).SetBytes(raw)
	order := p256Order
	d.Mod(d, new(big.Int).Sub(order, big.NewInt(1)))
	d.Add(d, big.NewInt(1)) // land in [1, n-1]

	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(d.Bytes())
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	return &Keypair{Private: priv}, nil
}

// MakeCredID returns the 64-byte self-authenticating credential ID:
// context ‖ HMAC-SHA256(master, context‖rp_id)[:32].
func MakeCredID(master []byte, context [ContextSize]byte, rpID string) [IDSize]byte {
	var id [IDSize]byte
	copy(id[:ContextSize], context[:])
	mac := macOver(master, context, rpID)
	copy(id[ContextSize:], mac)
	return id
}

// VerifyCredID recomputes the MAC over the claimed context and submitted
// rpID and compares it to credID's trailing 32 bytes in constant time.
// credID must be exactly IDSize bytes.
func VerifyCredID(master []byte, credID []byte, rpID string) bool {
	if len(credID) != IDSize {
		return false
	}
	var context [ContextSize]byte
	copy(context[:], credID[:ContextSize])
	want := macOver(master, context, rpID)
	return hmac.Equal(want, credID[ContextSize:])
}

func macOver(master []byte, context [ContextSize]byte, rpID string) []byte {
	mac := hmac.New(sha256.New, master)
	mac.Write(context[:])
	mac.Write([]byte(rpID))
	return mac.Sum(nil)[:MACSize]
}

// COSEKey is the fixed EC2/P-256/ES256 COSE_Key encoding of a credential's
// public key.
type COSEKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Alg int64  `cbor:"3,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

const (
	coseKtyEC2  = 2
	coseCrvP256 = 1
)

// COSEPublicKey encodes kp's public key as a COSE_Key with alg=ES256,
// crv=P-256.
func COSEPublicKey(kp *Keypair) COSEKey {
	size := (kp.Private.Curve.Params().BitSize + 7) / 8
	x := kp.Private.PublicKey.X.FillBytes(make([]byte, size))
	y := kp.Private.PublicKey.Y.FillBytes(make([]byte, size))
	return COSEKey{Kty: coseKtyEC2, Alg: ESAlgorithm, Crv: coseCrvP256, X: x, Y: y}
}

// Sign computes an ECDSA-P256-SHA256 signature over authData‖clientDataHash
// and returns it DER-encoded, per spec.md §4.D.
func Sign(rand RandBytes, kp *Keypair, authData, clientDataHash []byte) ([]byte, error) {
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientDataHash...))
	sig, err := ecdsa.SignASN1(randReader{rand}, kp.Private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("credential: signing: %w", err)
	}
	return sig, nil
}

// IsValidAlgorithm reports whether coseAlg is a COSE algorithm this
// authenticator can use to create credentials. Only ES256 (-7) is
// supported.
func IsValidAlgorithm(coseAlg int64) bool { return coseAlg == ESAlgorithm }

// ErrUnsupportedAlgorithm names a COSE algorithm other than ES256. Nothing
// in this module returns it: makeCredential reports an unsupported
// algorithm with ctap2_err_unsupported_algorithm directly.
var ErrUnsupportedAlgorithm = errors.New("credential: unsupported algorithm")

type randReader struct{ fn RandBytes }

func (r randReader) Read(p []byte) (int, error) {
	if r.fn == nil {
		return rand.Read(p)
	}
	if err := r.fn(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
