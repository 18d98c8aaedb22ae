// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var frameHex bool

var frameCmd = &cobra.Command{
	Use:   "frame <payload>",
	Short: "Encode a payload and print the wire bytes",
	Long: `Encode a payload the way the link frames it and print the result.

  grobot frame 'AAHE 1 1.000000'

No connection is opened. Useful when scripting a device or reading a capture.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFrame,
}

func init() {
	rootCmd.AddCommand(frameCmd)
	frameCmd.Flags().BoolVar(&frameHex, "hex", false, "Also print the bytes in hex")
}

func runFrame(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	payload := strings.Join(args, " ")
	wire := groduino.Encode(payload)

	fmt.Fprintf(out, "Payload: %q\n", payload)
	fmt.Fprintf(out, "Length:  %d\n", len(payload))
	fmt.Fprintf(out, "CRC8:    %d (0x%02X)\n", groduino.CalculateCRC([]byte(payload)), groduino.CalculateCRC([]byte(payload)))
	fmt.Fprintf(out, "Wire:    %s\n", groduino.FormatRaw(wire))
	if frameHex {
		fmt.Fprintf(out, "Hex:     % X\n", wire)
	}
	return nil
}
