// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package blob implements the Persistent-State Manager (spec.md §4.B): it
// loads, decrypts, re-encrypts, and stores the authenticator's single
// encrypted secret blob, and owns the nonce/retry/sign-counter bookkeeping
// that protects it. It has no notion of CTAP commands; it is a leaf
// component operating purely over byte slices and an injected storage
// callback, the same shape as the teacher's DeviceCredentialBlob
// (credential.go) generalized from a one-shot device secret to a
// re-encrypted-on-every-write blob.
package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/hkdf"

	ctapcbor "github.com/fido-device-onboard/go-ctap2-core/cbor"
)

// Sizes and constants from spec.md §3.
const (
	MasterSecretSize = 32
	PinHashSize      = 16
	SaltSize         = 16
	NonceSize        = 12
	TagSize          = 16
	validMagic       = 0xF1

	// DefaultPIN is the PIN a freshly reset authenticator is provisioned
	// with, per spec.md §4.B "reset".
	DefaultPIN = "candystick"
	// DefaultRetries is the pin_retries ceiling, restored on every
	// successful PIN verification.
	DefaultRetries = 8
)

// ErrNotFound is returned by a Storage implementation's Load to indicate no
// blob has ever been written. A nil error with zero-length data means the
// same thing and is also accepted.
var ErrNotFound = errors.New("blob: not found")

// Storage is the injected load/store collaborator from spec.md §6. It does
// not interpret the bytes it carries.
type Storage interface {
	Load() ([]byte, error)
	Store([]byte) error
}

// RandBytes fills buf with cryptographically secure random bytes, matching
// the embedder's rand_bytes(buf) collaborator from spec.md §6.
type RandBytes func(buf []byte) error

// Meta is the public, unencrypted header of the on-device record.
type Meta struct {
	Valid          byte            `cbor:"1,keyasint"`
	Salt           [SaltSize]byte  `cbor:"2,keyasint"`
	NonceCounter   [NonceSize]byte `cbor:"3,keyasint"`
	PinRetries     uint8           `cbor:"4,keyasint"`
	ForcePinChange bool            `cbor:"5,keyasint"`
	// PinEverSet distinguishes "never configured a PIN" from "PIN is the
	// factory default" so that clientPIN's setPIN sub-command (spec.md §9
	// open question, decided in SPEC_FULL.md §9) can be offered exactly
	// once per reset.
	PinEverSet bool `cbor:"6,keyasint"`
}

// PublicBlob is the on-device record: a public Meta header plus the AEAD
// tag and ciphertext of the encrypted SecretBlob.
type PublicBlob struct {
	Meta       Meta              `cbor:"1,keyasint"`
	Tag        [TagSize]byte     `cbor:"2,keyasint"`
	Ciphertext []byte            `cbor:"3,keyasint"`
}

// SecretBlob is the plaintext form of the encrypted payload.
type SecretBlob struct {
	MasterSecret [MasterSecretSize]byte `cbor:"1,keyasint"`
	PinHash      [PinHashSize]byte      `cbor:"2,keyasint"`
	PinLength    uint8                  `cbor:"3,keyasint"`
	SignCounter  uint32                 `cbor:"4,keyasint"`
}

// Manager implements load/decrypt/commit/reset exactly per spec.md §4.B.
type Manager struct {
	storage Storage
	rand    RandBytes
}

// NewManager builds a Manager around the given storage and randomness
// collaborators.
func NewManager(storage Storage, rand RandBytes) *Manager {
	return &Manager{storage: storage, rand: rand}
}

// DeriveKey computes the AEAD key used for the encrypted blob:
// HKDF-Extract(salt, pinHash). The key is never stored; callers must
// re-derive it from the PIN on each unlock.
func DeriveKey(salt [SaltSize]byte, pinHash [PinHashSize]byte) [32]byte {
	prk := hkdf.Extract(sha256.New, pinHash[:], salt[:])
	var key [32]byte
	copy(key[:], prk)
	return key
}

// HashPIN returns the left half of SHA-256(pin), the pin_hash stored in the
// SecretBlob.
func HashPIN(pin string) [PinHashSize]byte {
	sum := sha256.Sum256([]byte(pin))
	var h [PinHashSize]byte
	copy(h[:], sum[:PinHashSize])
	return h
}

// Load asks the storage callback for the blob. If none has ever been
// written, it performs a fresh Reset(zero nonce) and returns that.
func (m *Manager) Load() (*PublicBlob, error) {
	data, err := m.storage.Load()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("blob: loading storage: %w", err)
	}
	if len(data) == 0 {
		return m.Reset([NonceSize]byte{})
	}
	var pb PublicBlob
	if err := ctapcbor.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("blob: decoding stored blob: %w", err)
	}
	if pb.Meta.Valid != validMagic {
		return nil, errors.New("blob: stored blob has invalid magic")
	}
	return &pb, nil
}

// DecryptSecret decrypts the SecretBlob held by pb using key, with the
// nonce taken from pb.Meta.NonceCounter and no additional authenticated
// data.
func (m *Manager) DecryptSecret(pb *PublicBlob, key [32]byte) (*SecretBlob, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	combined := make([]byte, 0, len(pb.Ciphertext)+TagSize)
	combined = append(combined, pb.Ciphertext...)
	combined = append(combined, pb.Tag[:]...)
	plain, err := aead.Open(nil, pb.Meta.NonceCounter[:], combined, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: decrypting secret: %w", err)
	}
	var secret SecretBlob
	if err := ctapcbor.Unmarshal(plain, &secret); err != nil {
		return nil, fmt.Errorf("blob: decoding secret: %w", err)
	}
	return &secret, nil
}

// Commit bumps pb.Meta.NonceCounter by one, re-encrypts secret under the
// new nonce with key, overwrites pb's ciphertext and tag, and hands the
// re-serialized blob to the storage callback. Every successful command
// that touched the secret blob MUST call Commit exactly once.
func (m *Manager) Commit(pb *PublicBlob, secret *SecretBlob, key [32]byte) error {
	next, ok := incrementNonce(pb.Meta.NonceCounter)
	if !ok {
		return errors.New("blob: nonce counter exhausted, refusing to write")
	}
	pb.Meta.NonceCounter = next

	plain, err := ctapcbor.Marshal(secret)
	if err != nil {
		return fmt.Errorf("blob: encoding secret: %w", err)
	}
	aead, err := newGCM(key)
	if err != nil {
		return err
	}
	sealed := aead.Seal(nil, pb.Meta.NonceCounter[:], plain, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
	pb.Ciphertext = ct
	copy(pb.Tag[:], tag)

	data, err := ctapcbor.Marshal(pb)
	if err != nil {
		return fmt.Errorf("blob: encoding blob: %w", err)
	}
	if err := m.storage.Store(data); err != nil {
		return fmt.Errorf("blob: writing storage: %w", err)
	}
	return nil
}

// Reset generates a fresh master secret, salt, and default PIN, then
// writes the result back through the storage callback itself (the caller
// must not also Commit). carryNonce is the pre-reset nonce counter value;
// it is preserved rather than rolled back to zero, which would risk nonce
// reuse if the freshly rolled salt ever collided with a prior one.
func (m *Manager) Reset(carryNonce [NonceSize]byte) (*PublicBlob, error) {
	var salt [SaltSize]byte
	if err := m.rand(salt[:]); err != nil {
		return nil, fmt.Errorf("blob: generating salt: %w", err)
	}

	var ikm [MasterSecretSize]byte
	if err := m.rand(ikm[:]); err != nil {
		return nil, fmt.Errorf("blob: generating master secret entropy: %w", err)
	}
	master := hkdf.Extract(sha256.New, ikm[:], salt[:])
	var secret SecretBlob
	copy(secret.MasterSecret[:], master)
	secret.PinHash = HashPIN(DefaultPIN)
	secret.PinLength = uint8(len(DefaultPIN))
	secret.SignCounter = 0

	pb := &PublicBlob{
		Meta: Meta{
			Valid:        validMagic,
			Salt:         salt,
			NonceCounter: carryNonce,
			PinRetries:   DefaultRetries,
		},
	}

	key := DeriveKey(salt, secret.PinHash)
	plain, err := ctapcbor.Marshal(&secret)
	if err != nil {
		return nil, fmt.Errorf("blob: encoding secret: %w", err)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, pb.Meta.NonceCounter[:], plain, nil)
	pb.Ciphertext = sealed[:len(sealed)-TagSize]
	copy(pb.Tag[:], sealed[len(sealed)-TagSize:])

	data, err := ctapcbor.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("blob: encoding blob: %w", err)
	}
	if err := m.storage.Store(data); err != nil {
		return nil, fmt.Errorf("blob: writing storage: %w", err)
	}
	return pb, nil
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("blob: building AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("blob: building GCM: %w", err)
	}
	return aead, nil
}

// incrementNonce treats b as a little-endian 96-bit counter and returns
// b+1. ok is false if the counter would wrap, in which case the caller
// must refuse to write rather than reuse a nonce.
func incrementNonce(b [NonceSize]byte) (out [NonceSize]byte, ok bool) {
	out = b
	for i := 0; i < len(out); i++ {
		if out[i] != 0xFF {
			out[i]++
			return out, true
		}
		out[i] = 0x00
	}
	// Every byte was 0xFF: the counter has wrapped.
	return b, false
}
