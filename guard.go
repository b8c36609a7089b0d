// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"
	"sync"
)

// GuardedAuthenticator wraps an Authenticator with a mutex held for the
// duration of every Handle call. spec.md §5: the PIN/UV token and the
// persistent blob are both process-local mutable state with no internal
// locking of their own; a transport that dispatches concurrently (e.g.
// multiple USB/NFC channels into one authenticator instance) must
// serialize through something like this rather than through the bare
// Authenticator. Single-threaded embedders should use Authenticator
// directly and skip the lock.
type GuardedAuthenticator struct {
	mu   sync.Mutex
	auth *Authenticator
}

// NewGuardedAuthenticator wraps auth for concurrent use.
func NewGuardedAuthenticator(auth *Authenticator) *GuardedAuthenticator {
	return &GuardedAuthenticator{auth: auth}
}

// Handle serializes calls into the wrapped Authenticator.
func (g *GuardedAuthenticator) Handle(ctx context.Context, command []byte) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auth.Handle(ctx, command)
}
