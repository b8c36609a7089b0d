// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package cbor provides the CBOR encode/decode surface used throughout
// ctap2. It mirrors the call shape of the teacher's own internal cbor
// package (Marshal, Unmarshal, NewEncoder, NewDecoder) but is backed by
// fxamacker/cbor/v2, which supports the canonical-encoding and map-key
// control CTAP2 wire messages require.
package cbor

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var encOpts = cbor.CanonicalEncOptions()

var decOpts = cbor.DecOptions{
	MaxMapPairs:     1024,
	MaxArrayElements: 1024,
	MaxNestedLevels: 16,
}

var encMode = func() cbor.EncMode {
	m, err := encOpts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

var decMode = func() cbor.DecMode {
	m, err := decOpts.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// RawMessage is an undecoded CBOR value, used for deferring decode of a
// command's trailing parameters until the command byte has selected a
// handler.
type RawMessage = cbor.RawMessage

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// NewEncoder returns a streaming CBOR encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

// NewDecoder returns a streaming CBOR decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
