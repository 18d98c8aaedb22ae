// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of the link statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalFrames        uint64
	ValidFrames        uint64
	MalformedFrames    uint64
	ChecksumErrors     uint64
	EmptyCRCFrames     uint64
	FramesSent         uint64
	OverflowRecoveries uint64
	BufferTrims        uint64
	BytesDiscarded     uint64
	NoiseBytes         uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// Errors returns the number of rejected frames
func (c Counters) Errors() uint64 {
	return c.MalformedFrames + c.ChecksumErrors + c.EmptyCRCFrames
}

// Statistics tracks link traffic and error counts. It is safe for
// concurrent use so metric scrapes can read it while the link runs.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{c: Counters{StartTime: now, LastUpdateTime: now}}
}

// RecordFrame counts one decode attempt and its outcome
func (s *Statistics) RecordFrame(decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TotalFrames++
	switch {
	case decodeErr == nil:
		s.c.ValidFrames++
	case errors.Is(decodeErr, ErrChecksumMismatch):
		s.c.ChecksumErrors++
	case errors.Is(decodeErr, ErrEmptyCRC):
		s.c.EmptyCRCFrames++
	default:
		s.c.MalformedFrames++
	}
	s.c.LastUpdateTime = time.Now()
}

// RecordSent counts one outbound frame
func (s *Statistics) RecordSent() {
	s.mu.Lock()
	s.c.FramesSent++
	s.mu.Unlock()
}

// RecordOverflow counts one overflow recovery and the bytes it threw away
func (s *Statistics) RecordOverflow(discarded int) {
	s.mu.Lock()
	s.c.OverflowRecoveries++
	s.c.BytesDiscarded += uint64(discarded)
	s.mu.Unlock()
}

// RecordTrim counts one hard-cap trim
func (s *Statistics) RecordTrim(discarded int) {
	s.mu.Lock()
	s.c.BufferTrims++
	s.c.BytesDiscarded += uint64(discarded)
	s.mu.Unlock()
}

// RecordNoise counts bytes skipped while looking for a start marker
func (s *Statistics) RecordNoise(n int) {
	s.mu.Lock()
	s.c.NoiseBytes += uint64(n)
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates filled in
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	snap := s.c
	s.mu.Unlock()

	elapsed := time.Since(snap.StartTime).Seconds()
	if elapsed > 0 {
		snap.FrameRate = float64(snap.TotalFrames) / elapsed
		snap.ErrorRate = float64(snap.Errors()) / elapsed
	}
	return snap
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var validPercent, errorPercent float64
	if snap.TotalFrames > 0 {
		validPercent = float64(snap.ValidFrames) * 100.0 / float64(snap.TotalFrames)
		errorPercent = float64(snap.Errors()) * 100.0 / float64(snap.TotalFrames)
	}

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", time.Since(snap.StartTime).Seconds())
	result += fmt.Sprintf("Frames Received: %8d\n", snap.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", snap.ValidFrames, validPercent)
	result += fmt.Sprintf("Frames Sent:     %8d\n", snap.FramesSent)

	if snap.Errors() > 0 {
		result += fmt.Sprintf("Rejected:        %8d (%.1f%%)\n", snap.Errors(), errorPercent)
		if snap.MalformedFrames > 0 {
			result += fmt.Sprintf("  Malformed:        %5d\n", snap.MalformedFrames)
		}
		if snap.ChecksumErrors > 0 {
			result += fmt.Sprintf("  CRC Mismatch:     %5d\n", snap.ChecksumErrors)
		}
		if snap.EmptyCRCFrames > 0 {
			result += fmt.Sprintf("  Empty CRC:        %5d\n", snap.EmptyCRCFrames)
		}
	}
	if snap.OverflowRecoveries > 0 || snap.BufferTrims > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", snap.OverflowRecoveries)
		result += fmt.Sprintf("Buffer Trims:    %8d\n", snap.BufferTrims)
		result += fmt.Sprintf("Bytes Discarded: %8d\n", snap.BytesDiscarded)
	}
	if snap.NoiseBytes > 0 {
		result += fmt.Sprintf("Noise Bytes:     %8d\n", snap.NoiseBytes)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", snap.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.mu.Lock()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
	s.mu.Unlock()
}
