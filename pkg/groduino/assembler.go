// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"bytes"
	"time"

	"go.uber.org/zap"
)

// AssemblerConfig bounds the receive buffer
type AssemblerConfig struct {
	BufferSize        int
	CutSize           int
	OverflowThreshold int
	// RecoveryTimeout bounds the wait for a frame after an overflow left a
	// single start marker in the buffer
	RecoveryTimeout time.Duration
	PollInterval    time.Duration
}

// DefaultAssemblerConfig returns the firmware-matched limits
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		BufferSize:        DefaultBufferSize,
		CutSize:           DefaultBufferCutSize,
		OverflowThreshold: DefaultOverflowThreshold,
		RecoveryTimeout:   DefaultReceiveTimeout,
		PollInterval:      DefaultReadTimeout,
	}
}

// Assembler accumulates stream bytes and cuts candidate frames at EOT
type Assembler struct {
	stream Stream
	cfg    AssemblerConfig
	buf    []byte
	stats  *Statistics
	logger *zap.Logger
}

// NewAssembler creates an assembler reading from stream. stats may be nil.
func NewAssembler(stream Stream, cfg AssemblerConfig, stats *Statistics, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = NewStatistics()
	}
	return &Assembler{stream: stream, cfg: cfg, stats: stats, logger: logger}
}

// Buffered returns the number of bytes held but not yet framed
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Reset drops everything held
func (a *Assembler) Reset() {
	a.buf = nil
}

// Next returns the next candidate frame, from the last SOH before the first
// EOT up to and including that EOT, or nil when none is complete yet. Bytes
// ahead of the SOH are discarded as line noise.
func (a *Assembler) Next() []byte {
	if msg, recovering := a.poll(); !recovering {
		return msg
	}

	// Overflow left exactly one start marker. Wait for its frame to finish.
	deadline := time.Now().Add(a.cfg.RecoveryTimeout)
	for {
		if msg, _ := a.poll(); msg != nil {
			return msg
		}
		if a.stream.Err() != nil || !time.Now().Before(deadline) {
			return nil
		}
		time.Sleep(a.cfg.PollInterval)
	}
}

func (a *Assembler) poll() (msg []byte, recovering bool) {
	available := a.stream.Buffered()

	if len(a.buf) > a.cfg.BufferSize {
		dropped := len(a.buf) - a.cfg.CutSize
		a.buf = append([]byte(nil), a.buf[dropped:]...)
		a.stats.RecordTrim(dropped)
		a.logger.Error("receive buffer over hard cap, trimmed",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(a.buf)))
	}

	if available > a.cfg.OverflowThreshold {
		a.logger.Error("serial buffer overflow, recovering",
			zap.Int("available", available),
			zap.Int("held", len(a.buf)))
		incoming := a.stream.ReadAvailable(available)

		last := bytes.LastIndexByte(incoming, SOH)
		if last < 0 {
			a.stats.RecordOverflow(len(a.buf) + len(incoming))
			a.buf = nil
			return nil, false
		}
		first := bytes.LastIndexByte(incoming[:last], SOH)
		if first < 0 {
			a.stats.RecordOverflow(len(a.buf) + last)
			a.buf = append([]byte(nil), incoming[last:]...)
			return nil, true
		}
		a.stats.RecordOverflow(len(a.buf) + first)
		a.buf = append([]byte(nil), incoming[first:]...)
	} else if available > 0 {
		a.buf = append(a.buf, a.stream.ReadAvailable(available)...)
	}

	for {
		end := bytes.IndexByte(a.buf, EOT)
		if end < 0 {
			return nil, false
		}
		segment := a.buf[:end+1]
		start := bytes.LastIndexByte(segment, SOH)
		switch {
		case start < 0:
			a.stats.RecordNoise(len(segment))
		case start > 0:
			a.stats.RecordNoise(start)
			msg = append([]byte(nil), segment[start:]...)
		default:
			msg = append([]byte(nil), segment...)
		}
		a.buf = append(a.buf[:0], a.buf[end+1:]...)
		if msg != nil {
			return msg, false
		}
	}
}
