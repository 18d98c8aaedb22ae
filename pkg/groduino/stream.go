// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"errors"
	"io"
	"sync"
	"time"
)

var (
	// ErrReadTimeout is returned by WaitByte when no byte arrived in time
	ErrReadTimeout = errors.New("read timeout")
	// ErrStreamClosed is returned once the stream has been closed locally
	ErrStreamClosed = errors.New("stream closed")
)

// Stream is the duplex byte channel to the microcontroller. Reads are split
// into a non-blocking drain (Buffered/ReadAvailable) used by the Assembler
// and a bounded single-byte wait used by the handshake.
type Stream interface {
	io.Writer
	io.Closer

	// Buffered reports how many received bytes are waiting to be read
	Buffered() int
	// ReadAvailable removes and returns up to n waiting bytes without blocking
	ReadAvailable(n int) []byte
	// WaitByte waits up to timeout for a single byte
	WaitByte(timeout time.Duration) (byte, error)
	// Err reports why the stream stopped receiving, or nil while it is healthy
	Err() error
}

// Port adapts any io.ReadWriteCloser (serial port, WebSocket bridge) into a
// Stream. A background pump copies received bytes into a bounded queue; when
// the queue is full the pump stops reading and the transport's own buffer
// takes the overflow, the same as an unread UART.
type Port struct {
	rwc      io.ReadWriteCloser
	capacity int

	mu  sync.Mutex
	buf []byte
	err error

	writeMu sync.Mutex

	arrived chan struct{}
	drained chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewPort starts pumping rwc. capacity <= 0 selects DefaultPortCapacity.
func NewPort(rwc io.ReadWriteCloser, capacity int) *Port {
	if capacity <= 0 {
		capacity = DefaultPortCapacity
	}
	p := &Port{
		rwc:      rwc,
		capacity: capacity,
		buf:      make([]byte, 0, capacity),
		arrived:  make(chan struct{}, 1),
		drained:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go p.pump()
	return p
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Port) pump() {
	chunk := make([]byte, min(256, p.capacity))
	for {
		n, err := p.rwc.Read(chunk)
		if n > 0 && !p.store(chunk[:n]) {
			return
		}
		if err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Port) store(data []byte) bool {
	for {
		p.mu.Lock()
		if p.err != nil {
			p.mu.Unlock()
			return false
		}
		if len(p.buf)+len(data) <= p.capacity {
			p.buf = append(p.buf, data...)
			p.mu.Unlock()
			notify(p.arrived)
			return true
		}
		p.mu.Unlock()

		select {
		case <-p.drained:
		case <-p.done:
			return false
		}
	}
}

func (p *Port) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	notify(p.arrived)
}

// Buffered implements Stream
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// ReadAvailable implements Stream
func (p *Port) ReadAvailable(n int) []byte {
	p.mu.Lock()
	if n > len(p.buf) {
		n = len(p.buf)
	}
	if n <= 0 {
		p.mu.Unlock()
		return nil
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	p.buf = append(p.buf[:0], p.buf[n:]...)
	p.mu.Unlock()

	notify(p.drained)
	return out
}

// WaitByte implements Stream
func (p *Port) WaitByte(timeout time.Duration) (byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			b := p.buf[0]
			p.buf = append(p.buf[:0], p.buf[1:]...)
			p.mu.Unlock()
			notify(p.drained)
			return b, nil
		}
		err := p.err
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}

		select {
		case <-p.arrived:
		case <-timer.C:
			return 0, ErrReadTimeout
		}
	}
}

// Err implements Stream
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Write sends p to the transport
func (p *Port) Write(data []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.rwc.Write(data)
}

// Close stops the pump and closes the transport
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		p.fail(ErrStreamClosed)
		close(p.done)
		err = p.rwc.Close()
	})
	return err
}
