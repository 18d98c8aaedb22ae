// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/backend"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeLink replays queued payloads and records commands
type fakeLink struct {
	queue         []string
	sent          []string
	blockingReads int
	err           error
}

func (l *fakeLink) Send(command string) error {
	l.sent = append(l.sent, command)
	return nil
}

func (l *fakeLink) Receive(blocking bool) (string, bool) {
	if blocking {
		l.blockingReads++
	}
	if len(l.queue) == 0 {
		return "", false
	}
	payload := l.queue[0]
	l.queue = l.queue[1:]
	return payload, true
}

func (l *fakeLink) Err() error { return l.err }

func (l *fakeLink) push(payloads ...string) {
	l.queue = append(l.queue, payloads...)
}

// fakeBackend serves fixed overrides and setpoints and records posts
type fakeBackend struct {
	mu           sync.Mutex
	overrides    []backend.Override
	setPoints    map[string]*float64
	overridesErr error
	postErr      error
	posted       [][]element.DataPoint
}

func (b *fakeBackend) Topology(context.Context) (*backend.Topology, error) {
	return greenhouse(), nil
}

func (b *fakeBackend) Overrides(context.Context) ([]backend.Override, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overrides, b.overridesErr
}

func (b *fakeBackend) SetPoints(context.Context) (map[string]*float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setPoints, nil
}

func (b *fakeBackend) PostDataPoints(_ context.Context, points []element.DataPoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.postErr != nil {
		return b.postErr
	}
	b.posted = append(b.posted, points)
	return nil
}

func (b *fakeBackend) failPosts(err error) {
	b.mu.Lock()
	b.postErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) postedPoints() []element.DataPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []element.DataPoint
	for _, batch := range b.posted {
		out = append(out, batch...)
	}
	return out
}

var errServerDown = errors.New("server down")

func ptr(v float64) *float64 { return &v }

const (
	tempURL     = "http://gro.local/sensingPoint/1/"
	humidityURL = "http://gro.local/sensingPoint/2/"
	lightURL    = "http://gro.local/sensingPoint/3/"
	heaterURL   = "http://gro.local/actuator/1/"
	ventURL     = "http://gro.local/actuator/2/"
)

// greenhouse is one enclosure with a heater and a vent on air temperature.
// The light sensor is disabled.
func greenhouse() *backend.Topology {
	return &backend.Topology{
		SensingPoints: []backend.SensingPointSpec{
			{Code: "SAHU", Index: 1, URL: humidityURL, Active: true},
			{Code: "SATM", Index: 1, URL: tempURL, Active: true},
			{Code: "SLIN", Index: 1, URL: lightURL, Active: false},
		},
		Actuators: []backend.ActuatorSpec{
			{Code: "AAVE", Index: 1, URL: ventURL, Binary: true, Effects: []element.Effect{
				{SensingPointURL: tempURL, EffectOnActive: -1, Threshold: 1, OperatingRangeMax: 10},
			}},
			{Code: "AAHE", Index: 1, URL: heaterURL, Binary: true, Effects: []element.Effect{
				{SensingPointURL: tempURL, EffectOnActive: 1, Threshold: 1, OperatingRangeMax: 10},
				{SensingPointURL: lightURL, EffectOnActive: 1, Threshold: 1, OperatingRangeMax: 10},
			}},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StatusFile = ""
	cfg.IdleDelay = 0
	return cfg
}

type harness struct {
	engine  *Engine
	link    *fakeLink
	backend *fakeBackend
	clock   *clock
}

func newHarness(t *testing.T, cfg Config, logger *zap.Logger, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		link:    &fakeLink{},
		backend: &fakeBackend{setPoints: map[string]*float64{}},
		clock:   &clock{t: t0},
	}
	opts = append([]Option{WithClock(h.clock.now)}, opts...)
	e, err := New(greenhouse(), h.backend, cfg, logger, opts...)
	require.NoError(t, err)
	e.Attach(h.link)
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

func (h *harness) point(t *testing.T, code string) *element.SensingPoint {
	t.Helper()
	el, err := h.engine.Lookup(element.KindSensingPoint, code, 1)
	require.NoError(t, err)
	return el.(*element.SensingPoint)
}

func (h *harness) actuator(t *testing.T, code string) *element.Actuator {
	t.Helper()
	el, err := h.engine.Lookup(element.KindActuator, code, 1)
	require.NoError(t, err)
	return el.(*element.Actuator)
}
