// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package ctap2 implements the Dispatcher and command Handlers of
// spec.md §4.A/§4.E, wiring together the Persistent-State Manager
// (package blob), the PIN/UV Auth-Token (package pinuv), and the
// Credential Engine (package credential) behind a single byte-in/byte-out
// Handle entry point.
package ctap2

import (
	"context"
	"errors"
	"fmt"

	ctapcbor "github.com/fido-device-onboard/go-ctap2-core/cbor"
	"github.com/fido-device-onboard/go-ctap2-core/blob"
	"github.com/fido-device-onboard/go-ctap2-core/pinuv"
)

// errBlobLoad and errBlobDecrypt distinguish unlock's two failure points so
// callers can choose the right status: a storage-layer load failure is
// ctap1_err_other, but a decrypt failure under a PIN-bearing command means
// the cached PIN hash no longer matches the blob, which is ctap2_err_pin_invalid.
var (
	errBlobLoad    = errors.New("ctap2: loading blob")
	errBlobDecrypt = errors.New("ctap2: decrypting blob")
)

// AAGUID is this authenticator's fixed identifier, reported by getInfo and
// embedded in every attested credential's authenticatorData.
var AAGUID = [16]byte{
	0x67, 0x6f, 0x2d, 0x63, 0x74, 0x61, 0x70, 0x32,
	0x2d, 0x63, 0x6f, 0x72, 0x65, 0x2d, 0x31, 0x00,
} // "go-ctap2-core-1\0"

// AttestationFormat is the fixed attestation statement format this
// authenticator produces: packed, self-attestation only (spec.md §4.E
// step 10).
const AttestationFormat = "packed"

// Versions is the set of CTAP/FIDO2 version strings reported by getInfo.
var Versions = []string{"FIDO_2_1"}

// PinUvAuthProtocols is the set of pinUvAuthProtocol versions this
// authenticator supports. Protocol v1 is not implemented (spec.md §4.C:
// "protocol v2 only").
var PinUvAuthProtocols = []uint{2}

// Authenticator holds all of the runtime state a single authenticator
// instance needs across commands: the persistent-blob manager, the
// in-process PIN/UV auth token, the injected Runtime collaborators, and
// the current PIN hash cached in RAM (see unlock, below).
type Authenticator struct {
	rt    Runtime
	blob  *blob.Manager
	token *pinuv.Token

	// pinHash is the SHA-256-derived PIN hash currently believed correct.
	// It is never persisted; it is cached here because the encryption key
	// for the secret blob is derived from salt‖pinHash (spec.md §4.B), and
	// the blob itself carries no plaintext trace of which PIN unlocks it.
	// changePIN/setPIN update this cache in lockstep with re-encrypting
	// the blob under the new key; reset restores it to the default PIN's
	// hash. A second authenticator process attached to the same storage
	// would need its own clientPIN round trip before it could decrypt.
	pinHash [blob.PinHashSize]byte
}

// NewAuthenticator validates rt and constructs a ready-to-use
// Authenticator. It does not touch storage; the first Handle call loads
// (and, on first boot, provisions) the persistent blob.
func NewAuthenticator(rt Runtime) (*Authenticator, error) {
	if err := rt.validate(); err != nil {
		return nil, err
	}
	tok, err := pinuv.New(pinuv.RandBytes(rt.RandBytes))
	if err != nil {
		return nil, fmt.Errorf("ctap2: initializing pin/uv token: %w", err)
	}
	return &Authenticator{
		rt:      rt,
		blob:    blob.NewManager(rt.Storage, blob.RandBytes(rt.RandBytes)),
		token:   tok,
		pinHash: blob.HashPIN(blob.DefaultPIN),
	}, nil
}

// Handle decodes a single CTAP command, dispatches it, and encodes the
// response: a status byte followed by the CBOR-encoded response map on
// success, or just the status byte on error. It never panics; any
// unexpected failure collapses to ctap1_err_other, per spec.md §7.
func (a *Authenticator) Handle(ctx context.Context, command []byte) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			resp = []byte{byte(StatusOther)}
		}
	}()

	if len(command) == 0 {
		return []byte{byte(StatusInvalidCommand)}
	}
	cmd, payload := command[0], command[1:]

	a.token.TimerObserver(a.rt.Now())

	body, err := a.dispatch(ctx, cmd, payload)
	if err != nil {
		return []byte{byte(statusOf(err))}
	}
	if body == nil {
		return []byte{byte(StatusOK)}
	}
	return append([]byte{byte(StatusOK)}, body...)
}

func (a *Authenticator) dispatch(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	switch cmd {
	case cmdMakeCredential:
		return a.handleMakeCredential(ctx, payload)
	case cmdGetAssertion:
		return a.handleGetAssertion(ctx, payload)
	case cmdGetInfo:
		return a.handleGetInfo(ctx, payload)
	case cmdClientPIN:
		return a.handleClientPIN(ctx, payload)
	case cmdReset:
		return a.handleReset(ctx, payload)
	case cmdSelection:
		return a.handleSelection(ctx, payload)
	default:
		return nil, errStatus(StatusInvalidCommand, "ctap2: unknown command 0x%02x", cmd)
	}
}

// unlock loads the current public blob and decrypts its secret under the
// cached PIN hash, returning both plus the derived key so the caller can
// Commit after mutating the secret.
func (a *Authenticator) unlock() (*blob.PublicBlob, *blob.SecretBlob, [32]byte, error) {
	pb, err := a.blob.Load()
	if err != nil {
		return nil, nil, [32]byte{}, fmt.Errorf("%w: %v", errBlobLoad, err)
	}
	key := blob.DeriveKey(pb.Meta.Salt, a.pinHash)
	secret, err := a.blob.DecryptSecret(pb, key)
	if err != nil {
		return nil, nil, [32]byte{}, fmt.Errorf("%w: %v", errBlobDecrypt, err)
	}
	return pb, secret, key, nil
}

// unlockForPIN is unlock for the clientPIN sub-commands that carry a PIN or
// pinHashEnc (setPIN/changePIN/getPinUvAuthTokenUsingPin): spec.md §4.B
// requires a decrypt failure there to surface as ctap2_err_pin_invalid,
// since the cached pinHash the blob is keyed on came from the last
// successful PIN check, not from the dispatcher preamble.
func (a *Authenticator) unlockForPIN() (*blob.PublicBlob, *blob.SecretBlob, [32]byte, error) {
	pb, secret, key, err := a.unlock()
	if err != nil {
		if errors.Is(err, errBlobDecrypt) {
			return nil, nil, [32]byte{}, errStatus(StatusPinInvalid, "%w", err)
		}
		return nil, nil, [32]byte{}, errStatus(StatusOther, "%w", err)
	}
	return pb, secret, key, nil
}

// requireUserPresence prompts the embedder for a user-presence gesture
// and maps the outcome to a status, per spec.md §4.E.
func (a *Authenticator) requireUserPresence(ctx context.Context, info UserPresenceInfo) error {
	result, err := a.rt.RequestUserPresence(ctx, info)
	if err != nil {
		return fmt.Errorf("ctap2: requesting user presence: %w", err)
	}
	switch result {
	case UserPresenceAccepted:
		return nil
	case UserPresenceTimeout:
		return errStatus(StatusOperationDenied, "ctap2: user presence timed out")
	default:
		return errStatus(StatusOperationDenied, "ctap2: user presence denied")
	}
}

func decodeRequest[T any](payload []byte) (*T, error) {
	if len(payload) == 0 {
		var zero T
		return &zero, nil
	}
	var req T
	if err := ctapcbor.Unmarshal(payload, &req); err != nil {
		return nil, errStatus(StatusInvalidCBOR, "ctap2: decoding request: %w", err)
	}
	return &req, nil
}

func encodeResponse(v any) ([]byte, error) {
	out, err := ctapcbor.Marshal(v)
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: encoding response: %w", err)
	}
	return out, nil
}
