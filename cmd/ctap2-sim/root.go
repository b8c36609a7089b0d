// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fido-device-onboard/go-ctap2-core/config"
	"github.com/fido-device-onboard/go-ctap2-core/ctaplog"
)

var configPath string
var blobPathFlag string
var autoApprove bool

var rootCmd = &cobra.Command{
	Use:   "ctap2-sim",
	Short: "A software CTAP2.1 authenticator core, driven from the command line",
	Long: `ctap2-sim exercises a complete authenticatorMakeCredential /
authenticatorGetAssertion / authenticatorClientPIN / authenticatorReset /
authenticatorSelection core entirely in software, for development and
integration testing without real authenticator hardware.`,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&blobPathFlag, "blob", "", "override the persistent blob file path")
	rootCmd.PersistentFlags().BoolVar(&autoApprove, "auto-approve", false, "auto-approve user-presence prompts (for scripted demos)")
}

// loadConfig layers config.Load's YAML/env/defaults result with the
// command-line overrides.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if blobPathFlag != "" {
		cfg.BlobPath = blobPathFlag
	}
	if autoApprove {
		cfg.AutoApprovePresence = true
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := ctaplog.New(level, cfg.Verbose)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
