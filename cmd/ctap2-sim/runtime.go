// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"time"

	ctap2 "github.com/fido-device-onboard/go-ctap2-core"
	"github.com/fido-device-onboard/go-ctap2-core/config"
)

// fileStorage is the file-backed ctap2.Storage used outside of tests.
type fileStorage struct {
	path string
}

func (f fileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (f fileStorage) Store(data []byte) error {
	return os.WriteFile(f.path, data, 0o600)
}

// buildRuntime wires a real crypto/rand, time.Now, file-backed Storage,
// and (unless auto-approved) an interactive stdin/stderr user-presence
// prompt into a ctap2.Runtime.
func buildRuntime(cfg *config.Config) ctap2.Runtime {
	return ctap2.Runtime{
		RandBytes: func(buf []byte) error {
			_, err := rand.Read(buf)
			return err
		},
		Now:     time.Now,
		Storage: fileStorage{path: cfg.BlobPath},
		RequestUserPresence: func(ctx context.Context, info ctap2.UserPresenceInfo) (ctap2.UserPresenceResult, error) {
			if cfg.AutoApprovePresence {
				return ctap2.UserPresenceAccepted, nil
			}
			fmt.Fprintf(os.Stderr, "user presence requested for %s (rp=%q): approve? [y/N] ", info.Operation, info.RPID)
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return ctap2.UserPresenceDenied, nil
			}
			if strings.EqualFold(strings.TrimSpace(line), "y") {
				return ctap2.UserPresenceAccepted, nil
			}
			return ctap2.UserPresenceDenied, nil
		},
	}
}
