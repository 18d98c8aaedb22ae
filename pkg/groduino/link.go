// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package groduino

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LinkConfig holds the serial link timing and buffer limits
type LinkConfig struct {
	EstablishTimeout time.Duration
	ReadTimeout      time.Duration
	ReceiveTimeout   time.Duration
	Assembler        AssemblerConfig
}

// DefaultLinkConfig returns the firmware-matched defaults
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		EstablishTimeout: DefaultEstablishTimeout,
		ReadTimeout:      DefaultReadTimeout,
		ReceiveTimeout:   DefaultReceiveTimeout,
		Assembler:        DefaultAssemblerConfig(),
	}
}

// Link is an established connection to the microcontroller
type Link struct {
	stream Stream
	asm    *Assembler
	cfg    LinkConfig
	stats  *Statistics
	logger *zap.Logger
}

// Connect performs the handshake on stream and returns a ready link. The
// stream is not closed on failure.
func Connect(ctx context.Context, stream Stream, cfg LinkConfig, logger *zap.Logger) (*Link, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := Handshake(ctx, stream, cfg.EstablishTimeout, cfg.ReadTimeout, logger); err != nil {
		return nil, err
	}

	stats := NewStatistics()
	return &Link{
		stream: stream,
		asm:    NewAssembler(stream, cfg.Assembler, stats, logger),
		cfg:    cfg,
		stats:  stats,
		logger: logger,
	}, nil
}

// Send frames and writes one command
func (l *Link) Send(command string) error {
	l.logger.Info("sending", zap.String("command", command))
	if _, err := l.stream.Write(Encode(command)); err != nil {
		return fmt.Errorf("write %q: %w", command, err)
	}
	l.stats.RecordSent()
	return nil
}

// ReceiveFrame returns the next candidate frame and its decode result. raw
// is nil when nothing arrived; err is a *FrameError when raw was rejected.
// A blocking call keeps polling until a frame arrives, ReceiveTimeout
// passes, or the stream fails.
func (l *Link) ReceiveFrame(blocking bool) (frame *Frame, raw []byte, err error) {
	deadline := time.Now().Add(l.cfg.ReceiveTimeout)
	for {
		raw = l.asm.Next()
		if raw != nil {
			break
		}
		if !blocking || l.stream.Err() != nil || !time.Now().Before(deadline) {
			return nil, nil, nil
		}
		time.Sleep(l.cfg.ReadTimeout)
	}

	frame, err = Decode(raw)
	l.stats.RecordFrame(err)
	return frame, raw, err
}

// Receive returns the next valid payload with surrounding commas stripped.
// ok is false when nothing arrived or the frame was rejected.
func (l *Link) Receive(blocking bool) (payload string, ok bool) {
	frame, raw, err := l.ReceiveFrame(blocking)
	if err != nil {
		l.logger.Warn("dropping invalid frame",
			zap.Error(err),
			zap.ByteString("raw", raw))
		return "", false
	}
	if frame == nil {
		return "", false
	}
	return strings.Trim(frame.Payload, ","), true
}

// Err reports a transport failure; the caller should reconnect
func (l *Link) Err() error {
	return l.stream.Err()
}

// Stats returns the link statistics
func (l *Link) Stats() *Statistics {
	return l.stats
}

// Close closes the underlying stream
func (l *Link) Close() error {
	return l.stream.Close()
}
