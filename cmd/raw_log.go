// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every received frame in human-readable format",
	Long: `Establish the link, then continuously decode and display frames as they arrive.

Valid telemetry is printed one reading per line. Rejected frames are printed
with the reason and the raw bytes, control characters spelled out.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openDiagSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("grobot - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	for ctx.Err() == nil {
		frame, raw, err := s.link.ReceiveFrame(true)
		switch {
		case err != nil:
			fmt.Printf("[%s] REJECTED %v\n  %s\n", time.Now().Format("15:04:05.000"), err, groduino.FormatRaw(raw))
		case frame != nil:
			fmt.Print(groduino.FormatFrame(frame))
		}
		if err := s.link.Err(); err != nil {
			fmt.Printf("Connection closed: %v\n", err)
			return nil
		}
	}
	return nil
}
