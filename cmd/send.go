// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var (
	sendWait    bool
	sendTimeout int
)

var sendCmd = &cobra.Command{
	Use:   "send <code> <index> <value>",
	Short: "Send one actuator command",
	Long: `Establish the link and send one actuator command, e.g.

  grobot send AAHE 1 1 --port auto

The command is framed exactly as the controller frames it. With --wait the
next telemetry frame is printed so the new actuator state can be checked.`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "Wait for and print the next frame")
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 5, "Timeout in seconds when waiting")
}

// buildCommand validates the arguments and renders the wire command
func buildCommand(args []string) (string, error) {
	code := args[0]
	if !strings.HasPrefix(code, element.ActuatorPrefix) {
		return "", fmt.Errorf("code %q is not an actuator code", code)
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("index %q: %w", args[1], err)
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return "", fmt.Errorf("value %q: %w", args[2], err)
	}
	return fmt.Sprintf("%s %d %f", code, index, value), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := buildCommand(args)
	if err != nil {
		return err
	}

	s, err := openDiagSession(context.Background(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Connection: %s\n", s.info)
	if err := s.link.Send(command); err != nil {
		return err
	}
	fmt.Printf("Sent: %s\n", groduino.FormatRaw(groduino.Encode(command)))

	if !sendWait {
		return nil
	}
	deadline := time.Now().Add(time.Duration(sendTimeout) * time.Second)
	for time.Now().Before(deadline) {
		frame, raw, err := s.link.ReceiveFrame(true)
		if err != nil {
			fmt.Printf("REJECTED %v\n  %s\n", err, groduino.FormatRaw(raw))
			continue
		}
		if frame != nil {
			fmt.Print(groduino.FormatFrame(frame))
			return nil
		}
		if err := s.link.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("no reply within %ds", sendTimeout)
}
