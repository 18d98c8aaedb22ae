// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// PosterConfig bounds background posting
type PosterConfig struct {
	MaxWorkers int
	MinWait    time.Duration
	MaxWait    time.Duration
	WaitStep   time.Duration
	WaitRelief time.Duration
}

// DefaultPosterConfig allows five posts in flight
func DefaultPosterConfig() PosterConfig {
	return PosterConfig{
		MaxWorkers: 5,
		MinWait:    100 * time.Millisecond,
		MaxWait:    2 * time.Second,
		WaitStep:   50 * time.Millisecond,
		WaitRelief: 10 * time.Millisecond,
	}
}

// Poster runs datapoint posts in the background. When MaxWorkers posts
// are in flight, Post sleeps the caller with a growing backoff, which slows
// the control loop down instead of piling up requests. Post must be called
// from a single goroutine.
type Poster struct {
	sink      DataPointSink
	cfg       PosterConfig
	onFailure func(points []element.DataPoint, err error)
	logger    *zap.Logger
	sleep     func(time.Duration)

	inFlight atomic.Int32
	wait     atomic.Int64
	wg       sync.WaitGroup
}

// NewPoster creates a poster. onFailure, if set, is called from the worker
// goroutine with the batch that could not be posted; it must not block.
func NewPoster(sink DataPointSink, cfg PosterConfig, onFailure func([]element.DataPoint, error), logger *zap.Logger) *Poster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	p := &Poster{
		sink:      sink,
		cfg:       cfg,
		onFailure: onFailure,
		logger:    logger,
		sleep:     time.Sleep,
	}
	p.wait.Store(int64(cfg.MinWait))
	return p
}

// InFlight returns the number of running posts
func (p *Poster) InFlight() int {
	return int(p.inFlight.Load())
}

// CurrentWait returns the backoff the next over-capacity Post would start from
func (p *Poster) CurrentWait() time.Duration {
	return time.Duration(p.wait.Load())
}

// Post starts posting points in the background. It returns early only when
// ctx is cancelled while waiting for capacity.
func (p *Poster) Post(ctx context.Context, points []element.DataPoint) error {
	if len(points) == 0 {
		p.logger.Debug("no new datapoints")
		return nil
	}

	for p.InFlight() >= p.cfg.MaxWorkers {
		wait := p.CurrentWait()
		if wait < p.cfg.MaxWait {
			wait = min(wait+p.cfg.WaitStep, p.cfg.MaxWait)
			p.wait.Store(int64(wait))
		} else {
			p.logger.Warn("reached max poster backoff, posting is too slow",
				zap.Duration("wait", wait))
		}
		p.logger.Warn("too many post workers still running, sleeping",
			zap.Int("in_flight", p.InFlight()),
			zap.Duration("wait", wait))
		p.sleep(wait)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if wait := p.CurrentWait(); wait > p.cfg.MinWait {
		p.wait.Store(int64(max(wait-p.cfg.WaitRelief, p.cfg.MinWait)))
	}

	batch := uuid.NewString()
	workCtx := context.WithoutCancel(ctx)
	p.inFlight.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Add(-1)

		start := time.Now()
		if err := p.sink.PostDataPoints(workCtx, points); err != nil {
			p.logger.Error("failed to post datapoints",
				zap.String("batch", batch),
				zap.Int("count", len(points)),
				zap.Error(err))
			if p.onFailure != nil {
				p.onFailure(points, err)
			}
			return
		}
		p.logger.Debug("posted datapoints",
			zap.String("batch", batch),
			zap.Int("count", len(points)),
			zap.Duration("took", time.Since(start)))
	}()
	return nil
}

// Wait blocks until every started post has finished
func (p *Poster) Wait() {
	p.wg.Wait()
}
