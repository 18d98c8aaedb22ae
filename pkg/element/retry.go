// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package element

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrRetryExhausted is returned while an element is in its cool-down window
var ErrRetryExhausted = errors.New("element retry budget exhausted")

// RetryConfig bounds handler failures per element
type RetryConfig struct {
	MaxRetries int           `mapstructure:"maxRetries" yaml:"maxRetries"`
	Period     time.Duration `mapstructure:"period" yaml:"period"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultRetryConfig allows 5 failures per minute, then ignores the element for 10 minutes
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		Period:     60 * time.Second,
		Timeout:    600 * time.Second,
	}
}

// ErrorBudget counts handler failures for one element. Once MaxRetries
// failures land inside one Period the element is skipped until
// Period+Timeout after the period started.
type ErrorBudget struct {
	cfg         RetryConfig
	owner       string
	count       int
	periodStart time.Time
	logger      *zap.Logger
}

// NewErrorBudget creates a budget for the element named owner
func NewErrorBudget(owner string, cfg RetryConfig, logger *zap.Logger) *ErrorBudget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorBudget{cfg: cfg, owner: owner, logger: logger}
}

// Exhausted reports whether calls at now are suppressed
func (b *ErrorBudget) Exhausted(now time.Time) bool {
	return b.count >= b.cfg.MaxRetries &&
		now.Before(b.periodStart.Add(b.cfg.Period+b.cfg.Timeout))
}

// Failures returns the failures counted in the current period
func (b *ErrorBudget) Failures() int {
	return b.count
}

// Call runs fn unless the budget is exhausted. A panic in fn is recovered
// and counted like a returned error.
func (b *ErrorBudget) Call(now time.Time, fn func() error) error {
	if b.Exhausted(now) {
		return ErrRetryExhausted
	}

	if now.After(b.periodStart.Add(b.cfg.Period)) {
		b.periodStart = now
		b.count = 0
	}

	err := safeCall(fn)
	if err == nil {
		return nil
	}

	b.count++
	b.logger.Warn("failed to handle message",
		zap.String("element", b.owner),
		zap.Int("failures", b.count),
		zap.Error(err))
	if b.count >= b.cfg.MaxRetries {
		b.logger.Error("too many failures, suspending element",
			zap.String("element", b.owner),
			zap.Int("failures", b.count),
			zap.Duration("period", b.cfg.Period),
			zap.Duration("suspended_for", b.cfg.Timeout))
	}
	return err
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}
