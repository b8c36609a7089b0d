// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fido-device-onboard/go-ctap2-core/config"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "ctap2-blob.cbor", cfg.BlobPath)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.Verbose)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blob_path: /tmp/custom.cbor\nlog_level: debug\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.cbor", cfg.BlobPath)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	t.Setenv("CTAP2_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}
