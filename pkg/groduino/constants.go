// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import "time"

// Control bytes
const (
	SOH = 0x01 // start of header
	STX = 0x02 // start of text
	ETX = 0x03 // end of text
	EOT = 0x04 // end of transmission
	ENQ = 0x05 // enquiry
	ACK = 0x06 // acknowledge
)

// EmptyCRC is the footer value the firmware sends when it has no valid checksum.
const EmptyCRC = 256

// Receive buffer limits
const (
	DefaultBufferSize        = 8192
	DefaultBufferCutSize     = 4096
	DefaultOverflowThreshold = 3500
	DefaultPortCapacity      = 4096
)

// Link timing
const (
	DefaultEstablishTimeout = 2 * time.Second
	DefaultReadTimeout      = 10 * time.Millisecond
	DefaultReceiveTimeout   = 3 * time.Second
	DefaultReconnectDelay   = 3 * time.Second
	DefaultBaudRate         = 9600
)
