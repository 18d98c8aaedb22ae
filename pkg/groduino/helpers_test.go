// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"math/rand"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPayload builds printable ASCII without any control bytes
func randomPayload(rng *rand.Rand, maxLen int) string {
	n := rng.Intn(maxLen + 1)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(0x20 + rng.Intn(0x7F-0x20))
	}
	return string(b)
}

// fakeStream is an in-memory Stream. onWrite runs after every write, outside
// the lock, so tests can script the microcontroller's replies.
type fakeStream struct {
	mu      sync.Mutex
	rx      []byte
	tx      []byte
	err     error
	onWrite func(f *fakeStream, p []byte)
}

func (f *fakeStream) feed(data ...byte) {
	f.mu.Lock()
	f.rx = append(f.rx, data...)
	f.mu.Unlock()
}

func (f *fakeStream) feedString(s string) {
	f.feed([]byte(s)...)
}

func (f *fakeStream) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.tx...)
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		return 0, err
	}
	f.tx = append(f.tx, p...)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(f, p)
	}
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.err = ErrStreamClosed
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rx)
}

func (f *fakeStream) ReadAvailable(n int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.rx) {
		n = len(f.rx)
	}
	out := append([]byte(nil), f.rx[:n]...)
	f.rx = f.rx[n:]
	return out
}

func (f *fakeStream) WaitByte(timeout time.Duration) (byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f.mu.Lock()
		if len(f.rx) > 0 {
			b := f.rx[0]
			f.rx = f.rx[1:]
			f.mu.Unlock()
			return b, nil
		}
		err := f.err
		f.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if attempt == 0 {
			time.Sleep(timeout)
		}
	}
	return 0, ErrReadTimeout
}

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// ackOnAck answers the host's ACK with the firmware's ACK
func ackOnAck(f *fakeStream, p []byte) {
	if len(p) == 1 && p[0] == ACK {
		f.feed(ACK)
	}
}

// waitFor polls cond until it holds or a second passes
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
