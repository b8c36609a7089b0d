// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ctap2 "github.com/fido-device-onboard/go-ctap2-core"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Perform authenticatorReset, wiping all credentials and restoring the default PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		auth, err := ctap2.NewAuthenticator(buildRuntime(cfg))
		if err != nil {
			return err
		}

		resp := auth.Handle(context.Background(), []byte{0x07})
		if len(resp) == 0 || resp[0] != 0x00 {
			return fmt.Errorf("reset failed with status 0x%02x", statusByte(resp))
		}
		logger.Info("authenticator reset to factory defaults", "blob", cfg.BlobPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
