// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestPort_ReceivesBytes(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	port := NewPort(host, 0)
	defer port.Close()

	go device.Write([]byte{ENQ, 'a', 'b'})

	b, err := port.WaitByte(time.Second)
	if err != nil || b != ENQ {
		t.Fatalf("WaitByte() = %v, %v; want ENQ", b, err)
	}
	waitFor(t, func() bool { return port.Buffered() == 2 }, "two buffered bytes")
	if got := port.ReadAvailable(10); !bytes.Equal(got, []byte("ab")) {
		t.Errorf("ReadAvailable() = %q", got)
	}
	if got := port.ReadAvailable(10); got != nil {
		t.Errorf("ReadAvailable() on empty = %q, want nil", got)
	}
}

func TestPort_WaitByteTimeout(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	port := NewPort(host, 0)
	defer port.Close()

	_, err := port.WaitByte(10 * time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("expected ErrReadTimeout, got %v", err)
	}
}

func TestPort_Write(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	port := NewPort(host, 0)
	defer port.Close()

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := device.Read(buf)
		got <- buf[:n]
	}()

	if _, err := port.Write(Encode("AAHE 1 1.000000")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case data := <-got:
		if !bytes.Equal(data, Encode("AAHE 1 1.000000")) {
			t.Errorf("device received %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("device never received the frame")
	}
}

func TestPort_BackPressure(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	port := NewPort(host, 8)
	defer port.Close()

	go device.Write(bytes.Repeat([]byte{'q'}, 16))

	waitFor(t, func() bool { return port.Buffered() == 8 }, "a full queue")
	time.Sleep(5 * time.Millisecond)
	if port.Buffered() > 8 {
		t.Fatalf("Buffered() = %d exceeds capacity", port.Buffered())
	}

	port.ReadAvailable(8)
	waitFor(t, func() bool { return port.Buffered() == 8 }, "the second half")
}

func TestPort_Close(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	port := NewPort(host, 0)

	if err := port.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := port.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if !errors.Is(port.Err(), ErrStreamClosed) {
		t.Errorf("Err() = %v, want ErrStreamClosed", port.Err())
	}
	if _, err := port.WaitByte(time.Second); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("WaitByte() error = %v", err)
	}
}

func TestPort_PeerHangup(t *testing.T) {
	host, device := net.Pipe()
	port := NewPort(host, 0)
	defer port.Close()

	device.Close()
	waitFor(t, func() bool { return port.Err() != nil }, "the pump to stop")
	if !errors.Is(port.Err(), io.EOF) {
		t.Errorf("Err() = %v, want io.EOF", port.Err())
	}
}
