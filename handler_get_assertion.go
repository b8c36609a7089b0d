// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"

	"github.com/fido-device-onboard/go-ctap2-core/credential"
	"github.com/fido-device-onboard/go-ctap2-core/pinuv"
)

// handleGetAssertion implements authenticatorGetAssertion, spec.md §4.E.
// This authenticator stores no resident-key list; a credential can only
// be asserted if its ID (context‖MAC) is offered in allowList and its MAC
// verifies against the current master secret, so allowList is mandatory
// here even though CTAP2.1 otherwise permits it to be omitted for
// discoverable credentials.
func (a *Authenticator) handleGetAssertion(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRequest[GetAssertionRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.RPID == "" {
		return nil, errStatus(StatusMissingParameter, "ctap2: rpId is required")
	}
	if len(req.ClientDataHash) != 32 {
		return nil, errStatus(StatusMissingParameter, "ctap2: clientDataHash must be 32 bytes")
	}
	if len(req.AllowList) == 0 {
		return nil, errStatus(StatusNoCredentials, "ctap2: no discoverable credentials are stored")
	}

	pb, secret, key, err := a.unlock()
	if err != nil {
		return nil, err
	}

	presence := UserPresenceInfo{Operation: "getAssertion", RPID: req.RPID}
	if err := a.verifyPinUvAuthParam(ctx, req.PinUvAuthProtocol, req.PinUvAuthParam, req.ClientDataHash, pinuv.PermGA, presence); err != nil {
		return nil, err
	}

	var matched *CredentialDescriptor
	for i := range req.AllowList {
		if credential.VerifyCredID(secret.MasterSecret[:], req.AllowList[i].ID, req.RPID) {
			matched = &req.AllowList[i]
			break
		}
	}
	if matched == nil {
		return nil, errStatus(StatusNoCredentials, "ctap2: no allowList entry matches a known credential")
	}

	if err := a.requireUserPresence(ctx, presence); err != nil {
		return nil, err
	}

	var credCtx [credential.ContextSize]byte
	copy(credCtx[:], matched.ID[:credential.ContextSize])
	kp, err := credential.DeriveKeypair(secret.MasterSecret[:], credCtx)
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: deriving credential keypair: %w", err)
	}

	uv := a.token.GetUserVerifiedFlag()
	secret.SignCounter++
	authData := buildAuthData(req.RPID, true, uv, secret.SignCounter, nil)

	sig, err := credential.Sign(credential.RandBytes(a.rt.RandBytes), kp, authData, req.ClientDataHash)
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: signing assertion: %w", err)
	}

	if err := a.blob.Commit(pb, secret, key); err != nil {
		return nil, errStatus(StatusOther, "ctap2: committing blob: %w", err)
	}
	a.token.Consume()

	return encodeResponse(GetAssertionResponse{
		Credential: *matched,
		AuthData:   authData,
		Signature:  sig,
	})
}
