// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ctap2 "github.com/fido-device-onboard/go-ctap2-core"
	ctapcbor "github.com/fido-device-onboard/go-ctap2-core/cbor"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the authenticatorGetInfo response",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		auth, err := ctap2.NewAuthenticator(buildRuntime(cfg))
		if err != nil {
			return err
		}

		resp := auth.Handle(context.Background(), []byte{0x04})
		if len(resp) == 0 || resp[0] != 0x00 {
			return fmt.Errorf("getInfo failed with status 0x%02x", statusByte(resp))
		}

		var info ctap2.Info
		if err := ctapcbor.Unmarshal(resp[1:], &info); err != nil {
			return fmt.Errorf("decoding getInfo response: %w", err)
		}
		logger.Info("authenticator info", "versions", info.Versions, "aaguid", fmt.Sprintf("%x", info.AAGUID), "options", info.Options)
		return nil
	},
}

func statusByte(resp []byte) byte {
	if len(resp) == 0 {
		return 0xFF
	}
	return resp[0]
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
