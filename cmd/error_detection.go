// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var (
	showAll       bool
	statsInterval int
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors and malformed telemetry with link statistics.

This command validates each frame and detects:
  - Malformed frames (bad markers, length field mismatch)
  - CRC mismatches and frames sent without a CRC
  - Telemetry that is not a JSON object or carries non-numeric readings
  - Statistics and trends (frame rate, error rate, overflow recoveries)

By default, only errors are displayed. Use --show-all to display valid frames too.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openDiagSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("grobot - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	interval := time.Duration(statsInterval) * time.Second
	nextStats := time.Now().Add(interval)

	for ctx.Err() == nil {
		frame, raw, err := s.link.ReceiveFrame(true)
		switch {
		case err != nil:
			printFrameError(err, raw)
		case frame != nil:
			if issues := validateTelemetry(frame.Payload); len(issues) > 0 {
				printValidationErrors(frame, issues)
			} else if showAll {
				fmt.Print(groduino.FormatFrame(frame))
			}
		}

		if err := s.link.Err(); err != nil {
			fmt.Printf("Connection closed: %v\n", err)
			break
		}
		if time.Now().After(nextStats) {
			fmt.Println()
			fmt.Print(s.link.Stats().String())
			fmt.Println()
			nextStats = time.Now().Add(interval)
		}
	}

	fmt.Println()
	fmt.Print(s.link.Stats().String())
	return nil
}

// printFrameError prints a rejected frame in highlighted format
func printFrameError(err error, raw []byte) {
	timestamp := time.Now().Format("15:04:05.000")
	kind := "MALFORMED"
	switch {
	case errors.Is(err, groduino.ErrChecksumMismatch):
		kind = "CRC MISMATCH"
	case errors.Is(err, groduino.ErrEmptyCRC):
		kind = "EMPTY CRC"
	}
	fmt.Printf("[%s] \033[1;31m%s:\033[0m %v\n", timestamp, kind, err)
	fmt.Printf("  %s\n", groduino.FormatRaw(raw))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// validateTelemetry checks that a payload is a telemetry object whose
// readings parse as numbers
func validateTelemetry(payload string) []string {
	var readings map[string]any
	if err := json.Unmarshal([]byte(strings.Trim(payload, ",")), &readings); err != nil {
		return []string{fmt.Sprintf("not a telemetry object: %v", err)}
	}
	keys := make([]string, 0, len(readings))
	for k := range readings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []string
	for _, key := range keys {
		value := readings[key]
		if key == "" {
			issues = append(issues, "empty reading key")
			continue
		}
		if _, ok := element.KindFromTag(key[0]); !ok {
			issues = append(issues, fmt.Sprintf("%s: unknown element tag", key))
			continue
		}
		if key[0] == element.GeneralPrefix[0] {
			continue
		}
		if _, _, err := element.ParseID(key); err != nil {
			issues = append(issues, err.Error())
			continue
		}
		if _, err := element.ParseValue(value); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", key, err))
		}
	}
	return issues
}

// printValidationErrors prints the issues found in a frame that passed CRC
func printValidationErrors(frame *groduino.Frame, issues []string) {
	timestamp := frame.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m len=%d\n", timestamp, frame.Length)
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")
	for i, issue := range issues {
		fmt.Printf("  Issue %d: %s\n", i+1, issue)
	}
	fmt.Printf("  >>> TELEMETRY REJECTED <<<\n\n")
}
