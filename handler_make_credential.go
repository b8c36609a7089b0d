// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"

	"github.com/fido-device-onboard/go-ctap2-core/credential"
	"github.com/fido-device-onboard/go-ctap2-core/pinuv"
)

// handleMakeCredential implements authenticatorMakeCredential, spec.md
// §4.E: validate the request, verify the pinUvAuthParam against the
// current token, reject excluded credentials, obtain user presence,
// derive and self-attest a new credential, and bump the persisted
// sign counter.
func (a *Authenticator) handleMakeCredential(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRequest[MakeCredentialRequest](payload)
	if err != nil {
		return nil, err
	}
	if len(req.ClientDataHash) != 32 {
		return nil, errStatus(StatusMissingParameter, "ctap2: clientDataHash must be 32 bytes")
	}
	if req.RP.ID == "" {
		return nil, errStatus(StatusMissingParameter, "ctap2: rp.id is required")
	}
	if len(req.User.ID) == 0 {
		return nil, errStatus(StatusMissingParameter, "ctap2: user.id is required")
	}

	supported := false
	for _, p := range req.PubKeyCredParams {
		if p.Type == "public-key" && credential.IsValidAlgorithm(p.Alg) {
			supported = true
			break
		}
	}
	if !supported {
		return nil, errStatus(StatusUnsupportedAlgorithm, "ctap2: no supported algorithm offered")
	}
	if req.Options != nil {
		if (req.Options.RK != nil && *req.Options.RK) || (req.Options.UV != nil && *req.Options.UV) {
			return nil, errStatus(StatusUnsupportedOption, "ctap2: rk and uv options are not supported")
		}
	}

	pb, secret, key, err := a.unlock()
	if err != nil {
		return nil, err
	}

	presence := UserPresenceInfo{Operation: "makeCredential", RPID: req.RP.ID, UserName: req.User.Name}
	if err := a.verifyPinUvAuthParam(ctx, req.PinUvAuthProtocol, req.PinUvAuthParam, req.ClientDataHash, pinuv.PermMC, presence); err != nil {
		return nil, err
	}

	for _, excl := range req.ExcludeList {
		if credential.VerifyCredID(secret.MasterSecret[:], excl.ID, req.RP.ID) {
			// Collect user presence before reporting exclusion, so a
			// credential's mere existence can't be probed silently.
			_ = a.requireUserPresence(ctx, presence)
			return nil, errStatus(StatusCredentialExcluded, "ctap2: credential already registered for this rp")
		}
	}

	if err := a.requireUserPresence(ctx, presence); err != nil {
		return nil, err
	}

	credCtx, err := credential.NewContext(credential.RandBytes(a.rt.RandBytes))
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: generating credential context: %w", err)
	}
	credID := credential.MakeCredID(secret.MasterSecret[:], credCtx, req.RP.ID)
	kp, err := credential.DeriveKeypair(secret.MasterSecret[:], credCtx)
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: deriving credential keypair: %w", err)
	}

	attested, err := attestedCredentialData(AAGUID, credID[:], credential.COSEPublicKey(kp))
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: encoding attested credential data: %w", err)
	}

	uv := a.token.GetUserVerifiedFlag()
	authData := buildAuthData(req.RP.ID, true, uv, secret.SignCounter+1, attested)

	sig, err := credential.Sign(credential.RandBytes(a.rt.RandBytes), kp, authData, req.ClientDataHash)
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: signing attestation: %w", err)
	}

	secret.SignCounter++
	if err := a.blob.Commit(pb, secret, key); err != nil {
		return nil, errStatus(StatusOther, "ctap2: committing blob: %w", err)
	}

	return encodeResponse(AttestationObject{
		Fmt:      AttestationFormat,
		AuthData: authData,
		AttStmt:  PackedAttStmt{Alg: credential.ESAlgorithm, Sig: sig},
	})
}

// verifyPinUvAuthParam implements the pinUvAuthParam check shared by
// makeCredential and getAssertion, and is mandatory for both: protocol must
// be v2, the token must be in use with the required permission bit, the
// HMAC over msg must verify against the token's current value, and the
// token is bound to presence.RPID on first use (spec.md §9 supplement).
//
// An absent pinUvAuthParam does not short-circuit with "missing parameter":
// spec.md §4.E step 1 requires the same CTAP dance a bare getAssertion/
// makeCredential without any auth would get, so that a caller can't use the
// presence or absence of pinUvAuthParam handling to learn anything about
// PIN state. UP is consulted first; a decline reports operation_denied, an
// accept reports pin_invalid, and neither ever reports "missing".
func (a *Authenticator) verifyPinUvAuthParam(ctx context.Context, protocol *uint, param, msg []byte, requiredPerm uint8, presence UserPresenceInfo) error {
	if len(param) == 0 {
		if err := a.requireUserPresence(ctx, presence); err != nil {
			return err
		}
		return errStatus(StatusPinInvalid, "ctap2: pinUvAuthParam is required")
	}
	if protocol == nil || *protocol != 2 {
		return errStatus(StatusInvalidParameter, "ctap2: only pinUvAuthProtocol 2 is supported")
	}
	if !a.token.InUse() {
		return errStatus(StatusPuatExpired, "ctap2: pinUvAuthToken is not valid")
	}
	tok := a.token.PinToken()
	if !pinuv.Verify(tok[:], msg, param) {
		return errStatus(StatusPinAuthInvalid, "ctap2: pinUvAuthParam does not verify")
	}
	if a.token.Permissions()&requiredPerm == 0 {
		return errStatus(StatusUnauthorizedPermission, "ctap2: token lacks the required permission")
	}
	if a.token.RPID() == "" {
		a.token.BindRPID(presence.RPID)
	} else if a.token.RPID() != presence.RPID {
		return errStatus(StatusPinAuthInvalid, "ctap2: token is bound to a different rp")
	}
	return nil
}
