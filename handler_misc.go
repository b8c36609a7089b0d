// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"

	"github.com/fido-device-onboard/go-ctap2-core/blob"
)

// handleGetInfo implements authenticatorGetInfo, spec.md §4.E. It needs
// no authentication and does not touch the secret blob, only its public
// Meta header (to report force_pin_change).
func (a *Authenticator) handleGetInfo(ctx context.Context, payload []byte) ([]byte, error) {
	pb, err := a.blob.Load()
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: loading blob: %w", err)
	}

	info := Info{
		Versions: Versions,
		AAGUID:   AAGUID,
		Options: map[string]bool{
			"rk":             false,
			"clientPin":      pb.Meta.PinEverSet,
			"up":             true,
			"pinUvAuthToken": true,
		},
		PinUvAuthProtocols: PinUvAuthProtocols,
	}
	if pb.Meta.ForcePinChange {
		forced := true
		info.ForcePINChange = &forced
	}
	return encodeResponse(info)
}

// handleReset implements authenticatorReset, spec.md §4.E: after user
// presence, wipe the master secret and PIN back to factory defaults
// while carrying the nonce counter forward (never rewinding it), and
// re-initialize the in-process PIN/UV token.
func (a *Authenticator) handleReset(ctx context.Context, payload []byte) ([]byte, error) {
	if err := a.requireUserPresence(ctx, UserPresenceInfo{Operation: "reset"}); err != nil {
		return nil, err
	}

	pb, err := a.blob.Load()
	if err != nil {
		return nil, errStatus(StatusOther, "ctap2: loading blob: %w", err)
	}
	if _, err := a.blob.Reset(pb.Meta.NonceCounter); err != nil {
		return nil, errStatus(StatusOther, "ctap2: resetting blob: %w", err)
	}

	a.pinHash = blob.HashPIN(blob.DefaultPIN)
	if err := a.token.Initialize(); err != nil {
		return nil, errStatus(StatusOther, "ctap2: re-initializing pin/uv token: %w", err)
	}
	return nil, nil
}

// handleSelection implements authenticatorSelection, spec.md §4.E: a bare
// user-presence check used by a platform to identify which of several
// connected authenticators the user intends to use.
func (a *Authenticator) handleSelection(ctx context.Context, payload []byte) ([]byte, error) {
	if err := a.requireUserPresence(ctx, UserPresenceInfo{Operation: "selection"}); err != nil {
		return nil, err
	}
	return nil, nil
}
