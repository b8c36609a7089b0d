// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"github.com/fido-device-onboard/go-ctap2-core/pinuv"
)

// Command bytes, spec.md §6.
const (
	cmdMakeCredential byte = 0x01
	cmdGetAssertion   byte = 0x02
	cmdGetInfo        byte = 0x04
	cmdClientPIN      byte = 0x06
	cmdReset          byte = 0x07
	cmdSelection      byte = 0x0B
)

// RelyingPartyEntity is the "rp" member of makeCredential/getAssertion.
type RelyingPartyEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// UserEntity is the "user" member of makeCredential.
type UserEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

// PubKeyCredParam is one entry of makeCredential's pubKeyCredParams list.
type PubKeyCredParam struct {
	Type string `cbor:"type"`
	Alg  int64  `cbor:"alg"`
}

// CredentialDescriptor identifies a credential by ID, used in both
// makeCredential's excludeList and getAssertion's allowList, and as the
// "credential" member of a getAssertion response.
type CredentialDescriptor struct {
	Type string `cbor:"type"`
	ID   []byte `cbor:"id"`
}

// MakeCredentialOptions is the "options" member of makeCredential.
type MakeCredentialOptions struct {
	RK *bool `cbor:"rk,omitempty"`
	UV *bool `cbor:"uv,omitempty"`
}

// MakeCredentialRequest is the authenticatorMakeCredential request map,
// spec.md §4.E.
type MakeCredentialRequest struct {
	ClientDataHash    []byte                 `cbor:"1,keyasint"`
	RP                RelyingPartyEntity     `cbor:"2,keyasint"`
	User              UserEntity             `cbor:"3,keyasint"`
	PubKeyCredParams  []PubKeyCredParam      `cbor:"4,keyasint"`
	ExcludeList       []CredentialDescriptor `cbor:"5,keyasint,omitempty"`
	Options           *MakeCredentialOptions `cbor:"7,keyasint,omitempty"`
	PinUvAuthParam    []byte                 `cbor:"8,keyasint,omitempty"`
	PinUvAuthProtocol *uint                  `cbor:"9,keyasint,omitempty"`
}

// GetAssertionOptions is the "options" member of getAssertion.
type GetAssertionOptions struct {
	UP *bool `cbor:"up,omitempty"`
	UV *bool `cbor:"uv,omitempty"`
}

// GetAssertionRequest is the authenticatorGetAssertion request map,
// spec.md §4.E.
type GetAssertionRequest struct {
	RPID              string                 `cbor:"1,keyasint"`
	ClientDataHash    []byte                 `cbor:"2,keyasint"`
	AllowList         []CredentialDescriptor `cbor:"3,keyasint,omitempty"`
	Options           *GetAssertionOptions   `cbor:"5,keyasint,omitempty"`
	PinUvAuthParam    []byte                 `cbor:"6,keyasint,omitempty"`
	PinUvAuthProtocol *uint                  `cbor:"7,keyasint,omitempty"`
}

// PackedAttStmt is the "packed" attestation statement: a self-attestation
// signature over authData‖clientDataHash using the credential's own key
// (spec.md §4.E step 10's "surrogate/self attestation" note).
type PackedAttStmt struct {
	Alg int64  `cbor:"alg"`
	Sig []byte `cbor:"sig"`
}

// AttestationObject is the authenticatorMakeCredential success response,
// member keys 1/2/3.
type AttestationObject struct {
	Fmt      string        `cbor:"1,keyasint"`
	AuthData []byte        `cbor:"2,keyasint"`
	AttStmt  PackedAttStmt `cbor:"3,keyasint"`
}

// GetAssertionResponse is the authenticatorGetAssertion success response,
// member keys 1/2/3.
type GetAssertionResponse struct {
	Credential CredentialDescriptor `cbor:"1,keyasint"`
	AuthData   []byte               `cbor:"2,keyasint"`
	Signature  []byte               `cbor:"3,keyasint"`
}

// ClientPINSubCommand values, CTAP2.1 §6.5.
type ClientPINSubCommand uint

const (
	SubGetRetries                ClientPINSubCommand = 0x01
	SubGetKeyAgreement            ClientPINSubCommand = 0x02
	SubSetPIN                     ClientPINSubCommand = 0x03
	SubChangePIN                  ClientPINSubCommand = 0x04
	SubGetPinUvAuthTokenUsingPin  ClientPINSubCommand = 0x08
)

// ClientPINRequest is the authenticatorClientPIN request map.
type ClientPINRequest struct {
	PinUvAuthProtocol uint                 `cbor:"1,keyasint"`
	SubCommand        ClientPINSubCommand  `cbor:"2,keyasint"`
	KeyAgreement      *pinuv.COSEKey       `cbor:"3,keyasint,omitempty"`
	PinUvAuthParam    []byte               `cbor:"4,keyasint,omitempty"`
	NewPinEnc         []byte               `cbor:"5,keyasint,omitempty"`
	PinHashEnc        []byte               `cbor:"6,keyasint,omitempty"`
	Permissions       *uint8               `cbor:"9,keyasint,omitempty"`
	RPID              *string              `cbor:"10,keyasint,omitempty"`
}

type clientPINRetriesResponse struct {
	PinRetries      uint8 `cbor:"3,keyasint"`
	PowerCycleState bool  `cbor:"4,keyasint"`
}

type clientPINKeyAgreementResponse struct {
	KeyAgreement pinuv.COSEKey `cbor:"1,keyasint"`
}

type clientPINTokenResponse struct {
	PinUvAuthToken []byte `cbor:"2,keyasint"`
}

// Info is the authenticatorGetInfo success response, CTAP2.1 §6.4 member
// numbering.
type Info struct {
	Versions           []string        `cbor:"1,keyasint"`
	AAGUID             [16]byte        `cbor:"3,keyasint"`
	Options            map[string]bool `cbor:"4,keyasint"`
	PinUvAuthProtocols []uint          `cbor:"6,keyasint"`
	ForcePINChange     *bool           `cbor:"15,keyasint,omitempty"`
}
