// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	payload := strings.Trim(f.Payload, ",")

	var readings map[string]any
	if err := json.Unmarshal([]byte(payload), &readings); err == nil {
		result := fmt.Sprintf("[%s] TELEMETRY len=%d crc=%d\n", timestamp, f.Length, f.CRC)
		keys := make([]string, 0, len(readings))
		for k := range readings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			result += fmt.Sprintf("  %-10s %v\n", k, readings[k])
		}
		return result
	}

	return fmt.Sprintf("[%s] MESSAGE len=%d crc=%d\n  %s\n", timestamp, f.Length, f.CRC, payload)
}

// FormatRaw renders raw bytes with control bytes spelled out
func FormatRaw(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		switch c {
		case SOH:
			b.WriteString("<SOH>")
		case STX:
			b.WriteString("<STX>")
		case ETX:
			b.WriteString("<ETX>")
		case EOT:
			b.WriteString("<EOT>")
		case ENQ:
			b.WriteString("<ENQ>")
		case ACK:
			b.WriteString("<ACK>")
		default:
			if c < 0x20 || c > 0x7E {
				fmt.Fprintf(&b, "\\x%02x", c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}
