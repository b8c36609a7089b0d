// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"
	"crypto/subtle"

	"github.com/fido-device-onboard/go-ctap2-core/blob"
	"github.com/fido-device-onboard/go-ctap2-core/pinuv"
)

// minPINLength is the shortest PIN CTAP2.1 permits.
const minPINLength = 4

// maxPaddedPINScan bounds how far unpadPIN will scan for the terminating
// zero byte, per SPEC_FULL.md §9's decision: a corrupted or malicious
// newPinEnc must never cause an unbounded scan.
const maxPaddedPINScan = 63

// handleClientPIN implements authenticatorClientPIN, spec.md §4.C,
// dispatching on sub-command.
func (a *Authenticator) handleClientPIN(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRequest[ClientPINRequest](payload)
	if err != nil {
		return nil, err
	}

	// The sub-commands that run key agreement reject any protocol other
	// than v2 before the token is touched.
	switch req.SubCommand {
	case SubSetPIN, SubChangePIN, SubGetPinUvAuthTokenUsingPin:
		if req.PinUvAuthProtocol != 2 {
			return nil, errStatus(StatusInvalidParameter, "ctap2: only pinUvAuthProtocol 2 is supported")
		}
	}

	switch req.SubCommand {
	case SubGetRetries:
		return a.clientPINGetRetries()
	case SubGetKeyAgreement:
		return a.clientPINGetKeyAgreement(req)
	case SubSetPIN:
		return a.clientPINSetPIN(req)
	case SubChangePIN:
		return a.clientPINChangePIN(req)
	case SubGetPinUvAuthTokenUsingPin:
		return a.clientPINGetToken(req)
	default:
		return nil, errStatus(StatusInvalidParameter, "ctap2: unsupported clientPIN sub-command 0x%02x", req.SubCommand)
	}
}

func (a *Authenticator) clientPINGetRetries() ([]byte, error) {
	pb, err := a.blob.Load()
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: loading blob: %w", err)
	}
	return encodeResponse(clientPINRetriesResponse{
		PinRetries:      pb.Meta.PinRetries,
		PowerCycleState: false,
	})
}

func (a *Authenticator) clientPINGetKeyAgreement(req *ClientPINRequest) ([]byte, error) {
	if req.PinUvAuthProtocol != 2 {
		return nil, errStatus(StatusInvalidParameter, "ctap2: only pinUvAuthProtocol 2 is supported")
	}
	return encodeResponse(clientPINKeyAgreementResponse{KeyAgreement: a.token.GetPublicKey()})
}

// clientPINSetPIN implements CTAP 6.5.5.5: configuring a PIN for the
// first time. SPEC_FULL.md §9 decides it is offered exactly once per
// reset, gated on pb.Meta.PinEverSet.
func (a *Authenticator) clientPINSetPIN(req *ClientPINRequest) ([]byte, error) {
	if req.KeyAgreement == nil || len(req.PinUvAuthParam) == 0 || len(req.NewPinEnc) == 0 {
		return nil, errStatus(StatusMissingParameter, "ctap2: setPIN requires keyAgreement, pinUvAuthParam, and newPinEnc")
	}

	pb, secret, _, err := a.unlockForPIN()
	if err != nil {
		return nil, err
	}
	if pb.Meta.PinEverSet {
		return nil, errStatus(StatusPinAuthInvalid, "ctap2: a PIN has already been configured")
	}

	shared, err := a.token.ECDH(*req.KeyAgreement)
	if err != nil {
		return nil, errStatus(StatusInvalidParameter, "ctap2: key agreement failed: %w", err)
	}
	if !pinuv.Verify(shared.HMACKey(), req.NewPinEnc, req.PinUvAuthParam) {
		return nil, errStatus(StatusPinAuthInvalid, "ctap2: pinUvAuthParam does not verify")
	}

	newPIN, err := decryptAndUnpadPIN(shared, req.NewPinEnc)
	if err != nil {
		return nil, err
	}

	secret.PinHash = blob.HashPIN(newPIN)
	secret.PinLength = uint8(len(newPIN))
	pb.Meta.PinEverSet = true
	pb.Meta.ForcePinChange = false

	newKey := blob.DeriveKey(pb.Meta.Salt, secret.PinHash)
	if err := a.blob.Commit(pb, secret, newKey); err != nil {
		return nil, errStatus(StatusOther, "ctap2: committing blob: %w", err)
	}
	a.pinHash = secret.PinHash

	if err := a.token.Regenerate(); err != nil {
		return nil, errStatus(StatusOther, "ctap2: regenerating platform key: %w", err)
	}
	return nil, nil
}

// clientPINChangePIN implements CTAP 6.5.5.4.
func (a *Authenticator) clientPINChangePIN(req *ClientPINRequest) ([]byte, error) {
	if req.KeyAgreement == nil || len(req.PinUvAuthParam) == 0 || len(req.NewPinEnc) == 0 || len(req.PinHashEnc) == 0 {
		return nil, errStatus(StatusMissingParameter, "ctap2: changePIN requires keyAgreement, pinUvAuthParam, newPinEnc, and pinHashEnc")
	}

	pb, secret, key, err := a.unlockForPIN()
	if err != nil {
		return nil, err
	}
	if pb.Meta.PinRetries == 0 {
		return nil, errStatus(StatusPinBlocked, "ctap2: PIN is blocked")
	}

	shared, err := a.token.ECDH(*req.KeyAgreement)
	if err != nil {
		return nil, errStatus(StatusInvalidParameter, "ctap2: key agreement failed: %w", err)
	}
	msg := append(append([]byte{}, req.NewPinEnc...), req.PinHashEnc...)
	if !pinuv.Verify(shared.HMACKey(), msg, req.PinUvAuthParam) {
		return nil, errStatus(StatusPinAuthInvalid, "ctap2: pinUvAuthParam does not verify")
	}

	currentHash, err := pinuv.Decrypt(shared, req.PinHashEnc)
	if err != nil || len(currentHash) != blob.PinHashSize {
		return nil, errStatus(StatusPinInvalid, "ctap2: pinHashEnc is malformed")
	}
	if !constantTimeEqual(currentHash, secret.PinHash[:]) {
		return a.rejectPIN(pb, secret, key)
	}

	newPIN, err := decryptAndUnpadPIN(shared, req.NewPinEnc)
	if err != nil {
		return nil, err
	}

	secret.PinHash = blob.HashPIN(newPIN)
	secret.PinLength = uint8(len(newPIN))
	pb.Meta.PinRetries = blob.DefaultRetries
	pb.Meta.PinEverSet = true
	pb.Meta.ForcePinChange = false

	newKey := blob.DeriveKey(pb.Meta.Salt, secret.PinHash)
	if err := a.blob.Commit(pb, secret, newKey); err != nil {
		return nil, errStatus(StatusOther, "ctap2: committing blob: %w", err)
	}
	a.pinHash = secret.PinHash

	if err := a.token.Regenerate(); err != nil {
		return nil, errStatus(StatusOther, "ctap2: regenerating platform key: %w", err)
	}
	return nil, nil
}

// clientPINGetToken implements getPinUvAuthTokenUsingPinWithPermissions
// (CTAP 6.5.5.7.2).
func (a *Authenticator) clientPINGetToken(req *ClientPINRequest) ([]byte, error) {
	if req.KeyAgreement == nil || len(req.PinHashEnc) == 0 || req.Permissions == nil || *req.Permissions == 0 {
		return nil, errStatus(StatusMissingParameter, "ctap2: getPinUvAuthTokenUsingPin requires keyAgreement, pinHashEnc, and permissions")
	}
	// Cross-check the requested bits against authenticatorGetInfo's options:
	// this authenticator only ever advertises mc/ga support, so any other
	// bit (cm/be/lbw/acfg) names a feature it does not implement.
	if *req.Permissions&^(pinuv.PermMC|pinuv.PermGA) != 0 {
		return nil, errStatus(StatusUnauthorizedPermission, "ctap2: requested permissions are not supported by this authenticator")
	}

	pb, secret, key, err := a.unlockForPIN()
	if err != nil {
		return nil, err
	}
	if pb.Meta.PinRetries == 0 {
		return nil, errStatus(StatusPinBlocked, "ctap2: PIN is blocked")
	}

	shared, err := a.token.ECDH(*req.KeyAgreement)
	if err != nil {
		return nil, errStatus(StatusInvalidParameter, "ctap2: key agreement failed: %w", err)
	}

	currentHash, err := pinuv.Decrypt(shared, req.PinHashEnc)
	if err != nil || len(currentHash) != blob.PinHashSize {
		return nil, errStatus(StatusPinInvalid, "ctap2: pinHashEnc is malformed")
	}
	if !constantTimeEqual(currentHash, secret.PinHash[:]) {
		return a.rejectPIN(pb, secret, key)
	}

	pb.Meta.PinRetries = blob.DefaultRetries
	if err := a.blob.Commit(pb, secret, key); err != nil {
		return nil, errStatus(StatusOther, "ctap2: committing blob: %w", err)
	}

	if err := a.token.ResetToken(); err != nil {
		return nil, errStatus(StatusOther, "ctap2: issuing token: %w", err)
	}
	a.token.SetPermissions(*req.Permissions)
	a.token.BindRPID("") // a freshly issued token starts unbound regardless of any prior grant
	if req.RPID != nil {
		a.token.BindRPID(*req.RPID)
	}
	a.token.BeginUsing(true, a.rt.Now())

	var iv [16]byte
	if err := a.rt.RandBytes(iv[:]); err != nil {
		return nil, errStatus(StatusOther, "ctap2: generating iv: %w", err)
	}
	pinToken := a.token.PinToken()
	enc, err := pinuv.Encrypt(iv, shared.AESKey(), pinToken[:])
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: encrypting token: %w", err)
	}

	return encodeResponse(clientPINTokenResponse{PinUvAuthToken: enc})
}

// rejectPIN decrements the retry counter, regenerates the platform's
// ephemeral key (per CTAP2.1, a failed PIN attempt invalidates the
// current key agreement), persists the new retry count, and returns the
// appropriate status.
func (a *Authenticator) rejectPIN(pb *blob.PublicBlob, secret *blob.SecretBlob, key [32]byte) ([]byte, error) {
	if pb.Meta.PinRetries > 0 {
		pb.Meta.PinRetries--
	}
	retriesLeft := pb.Meta.PinRetries
	if err := a.blob.Commit(pb, secret, key); err != nil {
		return nil, errStatus(StatusOther, "ctap2: committing blob: %w", err)
	}
	if err := a.token.Regenerate(); err != nil {
		return nil, errStatus(StatusOther, "ctap2: regenerating platform key: %w", err)
	}
	if retriesLeft == 0 {
		return nil, errStatus(StatusPinBlocked, "ctap2: PIN is now blocked")
	}
	return nil, errStatus(StatusPinInvalid, "ctap2: pin does not match")
}

// decryptAndUnpadPIN decrypts a newPinEnc payload and removes its zero
// padding.
func decryptAndUnpadPIN(shared pinuv.SharedSecret, newPinEnc []byte) (string, error) {
	padded, err := pinuv.Decrypt(shared, newPinEnc)
	if err != nil {
		return "", errStatus(StatusPinPolicyViolation, "ctap2: newPinEnc is malformed")
	}
	return unpadPIN(padded)
}

// unpadPIN finds the zero byte terminating a padded PIN, scanning no
// further than maxPaddedPINScan bytes in.
func unpadPIN(padded []byte) (string, error) {
	limit := len(padded)
	if limit > maxPaddedPINScan {
		limit = maxPaddedPINScan
	}
	end := -1
	for i := 0; i < limit; i++ {
		if padded[i] == 0 {
			end = i
			break
		}
	}
	if end == -1 {
		end = limit
	}
	if end < minPINLength {
		return "", errStatus(StatusPinPolicyViolation, "ctap2: pin shorter than the minimum length")
	}
	return string(padded[:end]), nil
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
