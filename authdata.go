// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	ctapcbor "github.com/fido-device-onboard/go-ctap2-core/cbor"
	"github.com/fido-device-onboard/go-ctap2-core/credential"
)

// authData flag bits, spec.md §4.E.
const (
	flagUP byte = 1 << 0
	flagUV byte = 1 << 2
	flagAT byte = 1 << 6
	flagED byte = 1 << 7
)

// attestedCredentialData is aaguid‖credIdLen(2,BE)‖credId‖credPublicKey.
func attestedCredentialData(aaguid [16]byte, credID []byte, pub credential.COSEKey) ([]byte, error) {
	key, err := ctapcbor.Marshal(pub)
	if err != nil {
		return nil, fmt.Errorf("ctap2: encoding credential public key: %w", err)
	}
	out := make([]byte, 0, 16+2+len(credID)+len(key))
	out = append(out, aaguid[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(credID)))
	out = append(out, credID...)
	out = append(out, key...)
	return out, nil
}

// buildAuthData encodes authenticatorData: rpIdHash(32)‖flags(1)‖signCount(4,BE)
// optionally followed by attestedCredentialData, per spec.md §4.E and §3.
func buildAuthData(rpID string, up, uv bool, signCounter uint32, attested []byte) []byte {
	rpHash := sha256.Sum256([]byte(rpID))

	var flags byte
	if up {
		flags |= flagUP
	}
	if uv {
		flags |= flagUV
	}
	if attested != nil {
		flags |= flagAT
	}

	out := make([]byte, 0, 32+1+4+len(attested))
	out = append(out, rpHash[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, signCounter)
	out = append(out, attested...)
	return out
}
