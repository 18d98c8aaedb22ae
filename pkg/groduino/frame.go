// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// framePattern matches SOH <len> STX <payload> ETX <crc> EOT
var framePattern = regexp.MustCompile(`^\x01([0-9]*)\x02(.*)\x03([0-9]*)\x04$`)

// Frame is one decoded transmission
type Frame struct {
	Length    int
	Payload   string
	CRC       uint8
	Timestamp time.Time
}

// FrameErrorKind classifies why a candidate frame was rejected
type FrameErrorKind int

const (
	FrameMalformed FrameErrorKind = iota
	FrameChecksumMismatch
	FrameEmptyCRC
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameMalformed:
		return "malformed"
	case FrameChecksumMismatch:
		return "checksum_mismatch"
	case FrameEmptyCRC:
		return "empty_crc"
	default:
		return "unknown"
	}
}

// FrameError is returned by Decode. It is never fatal to the reader.
type FrameError struct {
	Kind    FrameErrorKind
	Message string
	Raw     []byte
}

func (e *FrameError) Error() string {
	if e.Message == "" {
		return "frame " + e.Kind.String()
	}
	return fmt.Sprintf("frame %s: %s", e.Kind, e.Message)
}

// Is matches any FrameError of the same kind, so errors.Is(err, ErrChecksumMismatch) works.
func (e *FrameError) Is(target error) bool {
	t, ok := target.(*FrameError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrMalformed        = &FrameError{Kind: FrameMalformed}
	ErrChecksumMismatch = &FrameError{Kind: FrameChecksumMismatch}
	ErrEmptyCRC         = &FrameError{Kind: FrameEmptyCRC}
)

// Encode wraps payload in the wire envelope. The payload must not contain
// any of the four framing control bytes; they are not escaped.
func Encode(payload string) []byte {
	crc := CalculateCRC([]byte(payload))
	out := make([]byte, 0, len(payload)+12)
	out = append(out, SOH)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, STX)
	out = append(out, payload...)
	out = append(out, ETX)
	out = strconv.AppendInt(out, int64(crc), 10)
	out = append(out, EOT)
	return out
}

// Decode validates a complete candidate frame and returns its payload
func Decode(raw []byte) (*Frame, error) {
	m := framePattern.FindSubmatch(raw)
	if m == nil {
		return nil, &FrameError{Kind: FrameMalformed, Message: "envelope does not match", Raw: raw}
	}

	length, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return nil, &FrameError{Kind: FrameMalformed, Message: fmt.Sprintf("bad length field %q", m[1]), Raw: raw}
	}
	payload := m[2]
	if length != len(payload) {
		return nil, &FrameError{
			Kind:    FrameMalformed,
			Message: fmt.Sprintf("length mismatch: header=%d, payload=%d", length, len(payload)),
			Raw:     raw,
		}
	}

	crc, err := strconv.Atoi(string(m[3]))
	if errors.Is(err, strconv.ErrRange) {
		return nil, &FrameError{Kind: FrameEmptyCRC, Message: fmt.Sprintf("crc field %s out of range", m[3]), Raw: raw}
	}
	if err != nil {
		return nil, &FrameError{Kind: FrameMalformed, Message: fmt.Sprintf("bad crc field %q", m[3]), Raw: raw}
	}
	if crc >= EmptyCRC {
		return nil, &FrameError{Kind: FrameEmptyCRC, Message: fmt.Sprintf("crc field %d", crc), Raw: raw}
	}

	calculated := CalculateCRC(payload)
	if uint8(crc) != calculated {
		return nil, &FrameError{
			Kind:    FrameChecksumMismatch,
			Message: fmt.Sprintf("expected %d, got %d", calculated, crc),
			Raw:     raw,
		}
	}

	return &Frame{
		Length:    length,
		Payload:   string(payload),
		CRC:       calculated,
		Timestamp: time.Now(),
	}, nil
}
