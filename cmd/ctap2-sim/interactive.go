// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	ctap2 "github.com/fido-device-onboard/go-ctap2-core"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Read one hex-encoded CTAP command per line from stdin, write the hex-encoded response to stdout",
	Long: `interactive is a thin byte-in/byte-out harness around Authenticator.Handle,
useful for driving the authenticator from a test script or another process
without a real USB/NFC/BLE transport.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		auth, err := ctap2.NewAuthenticator(buildRuntime(cfg))
		if err != nil {
			return err
		}
		guarded := ctap2.NewGuardedAuthenticator(auth)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			command, err := hex.DecodeString(line)
			if err != nil {
				logger.Warn("skipping malformed line", "error", err)
				continue
			}
			resp := guarded.Handle(context.Background(), command)
			fmt.Println(hex.EncodeToString(resp))
		}
		return scanner.Err()
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
