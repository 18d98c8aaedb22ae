// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/logging"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var handshakeCount int

var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Test link establishment with the microcontroller",
	Long: `Open the connection and run the ENQ/ACK handshake, reporting how long it took.

The microcontroller sends ENQ until it is acknowledged, so a healthy device
completes the handshake within a couple of seconds of the port opening. Each
attempt reopens the connection.

Exit codes:
  0 - All handshakes successful
  1 - One or more handshakes failed/timed out
  2 - Connection error`,
	RunE: runHandshake,
}

func init() {
	rootCmd.AddCommand(handshakeCmd)
	handshakeCmd.Flags().IntVar(&handshakeCount, "count", 1, "Number of handshakes to attempt")
}

func runHandshake(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if logLevel == "" {
		cfg.Logging.Level = "warn"
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	fmt.Printf("grobot - Handshake Test\n")
	fmt.Printf("Timeout: %v per handshake\n", cfg.Protocol.EstablishTimeout)
	fmt.Printf("Count: %d\n\n", handshakeCount)

	successCount := 0
	failCount := 0
	for i := 1; i <= handshakeCount; i++ {
		stream, info, err := OpenStream(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Handshake %d/%d (%s): ", i, handshakeCount, info)

		start := time.Now()
		err = groduino.Handshake(context.Background(), stream, cfg.Protocol.EstablishTimeout,
			cfg.Protocol.ReadTimeout, logger.Named("link"))
		elapsed := time.Since(start)
		_ = stream.Close()

		if err != nil {
			fmt.Printf("FAILED after %v: %v\n", elapsed.Round(time.Millisecond), err)
			logger.Debug("handshake failed", zap.Error(err))
			failCount++
		} else {
			fmt.Printf("ESTABLISHED in %v\n", elapsed.Round(time.Millisecond))
			successCount++
		}

		if i < handshakeCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Handshake statistics ---\n")
	fmt.Printf("%d attempts, %d established, %.0f%% failed\n",
		handshakeCount, successCount, float64(failCount)/float64(handshakeCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
