// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package element

import (
	"sync"
	"time"
)

// Sample is one buffered reading
type Sample struct {
	Time  time.Time
	Value float64
}

// DataPoint is the backend's wire form of a sample
type DataPoint struct {
	Timestamp    int64   `json:"timestamp" yaml:"timestamp"`
	Value        float64 `json:"value" yaml:"value"`
	SensingPoint string  `json:"sensing_point" yaml:"sensing_point"`
}

// SampleBuffer is a bounded FIFO. Pushing onto a full buffer evicts the oldest sample.
type SampleBuffer struct {
	mu       sync.Mutex
	samples  []Sample
	capacity int
}

// NewSampleBuffer creates a buffer holding at most capacity samples
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &SampleBuffer{capacity: capacity, samples: make([]Sample, 0, capacity)}
}

// Push appends s and reports whether an old sample was evicted
func (b *SampleBuffer) Push(s Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.samples) == b.capacity {
		b.samples = append(b.samples[:0], b.samples[1:]...)
		evicted = true
	}
	b.samples = append(b.samples, s)
	return evicted
}

// Len returns the number of buffered samples
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Capacity returns the bound
func (b *SampleBuffer) Capacity() int {
	return b.capacity
}

// Last returns the newest sample
func (b *SampleBuffer) Last() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Drain removes and returns every sample, oldest first
func (b *SampleBuffer) Drain() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	b.samples = make([]Sample, 0, b.capacity)
	return out
}

// Restore puts older samples back in front of the current ones. When the
// result exceeds the bound the oldest are dropped; the number dropped is returned.
func (b *SampleBuffer) Restore(older []Sample) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]Sample, 0, len(older)+len(b.samples))
	merged = append(merged, older...)
	merged = append(merged, b.samples...)

	dropped := 0
	if len(merged) > b.capacity {
		dropped = len(merged) - b.capacity
		merged = merged[dropped:]
	}
	b.samples = append(make([]Sample, 0, b.capacity), merged...)
	return dropped
}
