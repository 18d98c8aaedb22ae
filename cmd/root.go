// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/config"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "grobot",
	Short: "Greenhouse controller for the groduino microcontroller",
	Long: `grobot - Greenhouse controller bridging a groduino microcontroller and the gro API.

The run command is the controller daemon: it keeps the serial link up, feeds
sensor readings to the server and drives the actuators toward their setpoints.
The other commands are link diagnostics.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 9600]   (--port auto picks the first USB serial port)
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the GRO_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "0.3.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $GRO_CONFIG or ./configs/gro.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device, or \"auto\"")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", groduino.DefaultBaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// loadConfig reads the config file and applies the connection flags the
// user set explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.Serial.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Serial.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Serial.NoSSLVerify = wsNoSSLVerify
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// linkConfig converts the protocol section into link settings
func linkConfig(cfg *config.Config) groduino.LinkConfig {
	p := cfg.Protocol
	return groduino.LinkConfig{
		EstablishTimeout: p.EstablishTimeout,
		ReadTimeout:      p.ReadTimeout,
		ReceiveTimeout:   p.ReceiveTimeout,
		Assembler: groduino.AssemblerConfig{
			BufferSize:        p.BufferSize,
			CutSize:           p.CutSize,
			OverflowThreshold: p.OverflowThreshold,
			RecoveryTimeout:   p.RecoveryTimeout,
			PollInterval:      p.ReadTimeout,
		},
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
