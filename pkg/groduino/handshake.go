// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HandshakeState is the link establishment state
type HandshakeState int

const (
	AwaitingEnquire HandshakeState = iota
	SendAck
	AwaitingPeerAck
	Established
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitingEnquire:
		return "awaiting_enquire"
	case SendAck:
		return "send_ack"
	case AwaitingPeerAck:
		return "awaiting_peer_ack"
	case Established:
		return "established"
	default:
		return "unknown"
	}
}

// ErrHandshakeTimeout is wrapped by ConnectionError when establish_timeout elapses
var ErrHandshakeTimeout = errors.New("handshake timed out")

// ConnectionError reports a failure to open or establish the link. Callers
// retry the whole connection after a fixed delay.
type ConnectionError struct {
	Op    string
	State HandshakeState
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Op == "handshake" {
		return fmt.Sprintf("connection %s failed in state %s: %v", e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Handshake runs ENQ/ACK establishment on s. Bytes other than the one the
// current state expects are ignored. The timeout covers the whole exchange.
func Handshake(ctx context.Context, s Stream, timeout, pollInterval time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultReadTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)
	state := AwaitingEnquire
	ignored := 0

	logger.Debug("waiting for enquire", zap.Duration("timeout", timeout))

	for {
		if state == SendAck {
			if _, err := s.Write([]byte{ACK}); err != nil {
				return &ConnectionError{Op: "handshake", State: state, Err: err}
			}
			state = AwaitingPeerAck
			continue
		}

		if err := ctx.Err(); err != nil {
			return &ConnectionError{Op: "handshake", State: state, Err: err}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &ConnectionError{Op: "handshake", State: state, Err: ErrHandshakeTimeout}
		}

		b, err := s.WaitByte(min(pollInterval, remaining))
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			return &ConnectionError{Op: "handshake", State: state, Err: err}
		}

		switch {
		case state == AwaitingEnquire && b == ENQ:
			state = SendAck
		case state == AwaitingPeerAck && b == ACK:
			logger.Info("connection established",
				zap.Duration("elapsed", time.Since(start)),
				zap.Int("ignored_bytes", ignored))
			return nil
		default:
			ignored++
		}
	}
}
