// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

// Package bot is the control engine. It owns the element registry, routes
// device telemetry to elements, runs actuator control every cycle and
// periodically reconciles with the backend.
package bot

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/metrics"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/backend"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// ErrNotFound is wrapped by lookups that find no element
var ErrNotFound = errors.New("element not found")

// DispatchError is returned the first time a message key cannot be routed.
// The key is remembered and later messages for it are dropped silently.
type DispatchError struct {
	ID  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("cannot dispatch %q: %v", e.ID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Link is the device connection the engine drives
type Link interface {
	Send(command string) error
	Receive(blocking bool) (payload string, ok bool)
	Err() error
}

// ClimateConfig binds climate roles to actuators by identifier ("AAHE 1")
// and names the sensing points the policy reads.
type ClimateConfig struct {
	Enabled     bool
	Temperature string
	Humidity    string
	Light       string
	Roles       map[element.Role]string
	Thresholds  element.ClimateThresholds
}

// Config holds the engine cadences and per-element defaults
type Config struct {
	// ServerUpdatePeriod is the longest gap between backend reconciles
	ServerUpdatePeriod time.Duration
	StatusInterval     time.Duration
	// StatusFile is rewritten with every status snapshot; empty disables it
	StatusFile string
	// ProfilerClearEvery clears the profiler after this many snapshots
	ProfilerClearEvery int
	// IdleDelay is slept after a cycle that received nothing
	IdleDelay        time.Duration
	FailedBatchQueue int

	SensingPoint element.SensingPointConfig
	Actuator     element.ActuatorConfig
	Poster       backend.PosterConfig
	Climate      ClimateConfig
}

// DefaultConfig returns the daemon defaults
func DefaultConfig() Config {
	return Config{
		ServerUpdatePeriod: 15 * time.Second,
		StatusInterval:     10 * time.Second,
		StatusFile:         "grostatus.log",
		ProfilerClearEvery: 10,
		IdleDelay:          10 * time.Millisecond,
		FailedBatchQueue:   64,
		SensingPoint:       element.DefaultSensingPointConfig(),
		Actuator:           element.DefaultActuatorConfig(),
		Poster:             backend.DefaultPosterConfig(),
		Climate:            ClimateConfig{Thresholds: element.DefaultClimateThresholds()},
	}
}

type handler func(id string, value any, now time.Time) error

// Engine is the single-threaded controller. Everything except Status,
// Ready and the poster workers runs on the goroutine calling Run or Step.
type Engine struct {
	cfg     Config
	backend backend.Backend
	poster  *backend.Poster
	metrics *metrics.AppMetrics
	logger  *zap.Logger
	now     func() time.Time

	byURL     map[string]element.Element
	points    map[string]map[int]*element.SensingPoint
	actuators map[string]map[int]*element.Actuator
	inactive  map[string]*element.SensingPoint
	skip      map[string]struct{}
	handlers  map[element.Kind]handler

	pointList    []*element.SensingPoint
	actuatorList []*element.Actuator

	climate      *element.ClimatePolicy
	climateRoles map[*element.Actuator]element.Role

	link     Link
	attached atomic.Bool
	failed   chan []element.DataPoint
	profiler *Profiler

	unposted      int
	lastReconcile time.Time
	lastStatus    time.Time
	snapshots     int

	statusMu sync.Mutex
	status   string
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records engine activity
func WithMetrics(m *metrics.AppMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds the registry from topo. Inactive sensing points are kept
// aside: they get no setpoints, take part in no control and their
// messages are dropped.
func New(topo *backend.Topology, be backend.Backend, cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:          cfg,
		backend:      be,
		logger:       logger,
		now:          time.Now,
		byURL:        map[string]element.Element{},
		points:       map[string]map[int]*element.SensingPoint{},
		actuators:    map[string]map[int]*element.Actuator{},
		inactive:     map[string]*element.SensingPoint{},
		skip:         map[string]struct{}{},
		climateRoles: map[*element.Actuator]element.Role{},
		failed:       make(chan []element.DataPoint, max(cfg.FailedBatchQueue, 1)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.profiler = NewProfiler(e.now)
	e.lastStatus = e.now()
	e.handlers = map[element.Kind]handler{
		element.KindSensingPoint: e.handleSensingPoint,
		element.KindActuator:     e.handleActuator,
		element.KindGeneral:      e.handleGeneral,
	}

	for _, spec := range topo.SensingPoints {
		if err := e.addSensingPoint(spec); err != nil {
			return nil, err
		}
	}
	for _, spec := range topo.Actuators {
		if err := e.addActuator(spec); err != nil {
			return nil, err
		}
	}
	sort.Slice(e.pointList, func(i, j int) bool { return lessID(e.pointList[i].Identity(), e.pointList[j].Identity()) })
	sort.Slice(e.actuatorList, func(i, j int) bool {
		return lessID(e.actuatorList[i].Identity(), e.actuatorList[j].Identity())
	})

	if cfg.Climate.Enabled {
		e.setupClimate()
	}

	e.poster = backend.NewPoster(be, cfg.Poster, e.onPostFailure, logger.Named("poster"))

	logger.Info("engine ready",
		zap.Int("sensing_points", len(e.pointList)),
		zap.Int("inactive_sensing_points", len(e.inactive)),
		zap.Int("actuators", len(e.actuatorList)))
	return e, nil
}

func lessID(a, b element.Identity) bool {
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	return a.Index < b.Index
}

func (e *Engine) addSensingPoint(spec backend.SensingPointSpec) error {
	p := element.NewSensingPoint(spec.Code, spec.Index, spec.URL, spec.Active, e.cfg.SensingPoint, e.logger)
	id := p.Identity().ID()
	if !spec.Active {
		e.inactive[id] = p
		return nil
	}
	if _, dup := e.byURL[spec.URL]; dup {
		return fmt.Errorf("duplicate element url %s", spec.URL)
	}
	if e.points[spec.Code] == nil {
		e.points[spec.Code] = map[int]*element.SensingPoint{}
	}
	if _, dup := e.points[spec.Code][spec.Index]; dup {
		return fmt.Errorf("duplicate sensing point %s", id)
	}
	e.points[spec.Code][spec.Index] = p
	e.byURL[spec.URL] = p
	e.pointList = append(e.pointList, p)
	return nil
}

func (e *Engine) addActuator(spec backend.ActuatorSpec) error {
	a := element.NewActuator(spec.Code, spec.Index, spec.URL, spec.Binary, spec.Effects,
		e.resolveSensingPoint, e.cfg.Actuator, e.logger)
	id := a.Identity().ID()
	if _, dup := e.byURL[spec.URL]; dup {
		return fmt.Errorf("duplicate element url %s", spec.URL)
	}
	if e.actuators[spec.Code] == nil {
		e.actuators[spec.Code] = map[int]*element.Actuator{}
	}
	if _, dup := e.actuators[spec.Code][spec.Index]; dup {
		return fmt.Errorf("duplicate actuator %s", id)
	}
	e.actuators[spec.Code][spec.Index] = a
	e.byURL[spec.URL] = a
	e.actuatorList = append(e.actuatorList, a)
	return nil
}

func (e *Engine) resolveSensingPoint(url string) (*element.SensingPoint, bool) {
	p, ok := e.byURL[url].(*element.SensingPoint)
	return p, ok
}

func (e *Engine) setupClimate() {
	e.climate = element.NewClimatePolicy(e.cfg.Climate.Thresholds)
	for role, id := range e.cfg.Climate.Roles {
		a, err := e.actuatorByID(id)
		if err != nil {
			e.logger.Warn("climate role has no actuator",
				zap.String("role", string(role)),
				zap.String("actuator", id))
			continue
		}
		e.climateRoles[a] = role
	}
}

// Lookup returns the element of kind with code and index
func (e *Engine) Lookup(kind element.Kind, code string, index int) (element.Element, error) {
	switch kind {
	case element.KindSensingPoint:
		if p, ok := e.points[code][index]; ok {
			return p, nil
		}
	case element.KindActuator:
		if a, ok := e.actuators[code][index]; ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s %d", ErrNotFound, kind, code, index)
}

// ElementByURL returns the element registered under url
func (e *Engine) ElementByURL(url string) (element.Element, error) {
	el, ok := e.byURL[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return el, nil
}

// SensingPoints returns the active sensing points in (code, index) order
func (e *Engine) SensingPoints() []*element.SensingPoint {
	return e.pointList
}

// Actuators returns the actuators in (code, index) order
func (e *Engine) Actuators() []*element.Actuator {
	return e.actuatorList
}

func (e *Engine) actuatorByID(id string) (*element.Actuator, error) {
	code, index, err := element.ParseID(id)
	if err != nil {
		return nil, err
	}
	el, err := e.Lookup(element.KindActuator, code, index)
	if err != nil {
		return nil, err
	}
	return el.(*element.Actuator), nil
}

func (e *Engine) sensingPointByID(id string) *element.SensingPoint {
	code, index, err := element.ParseID(id)
	if err != nil {
		return nil
	}
	return e.points[code][index]
}

// Dispatch routes one telemetry value to its element. Unroutable keys and
// inactive sensing points are logged once and then ignored. Elements whose
// error budget is exhausted are skipped silently.
func (e *Engine) Dispatch(id string, value any) error {
	if _, skipped := e.skip[id]; skipped {
		e.metrics.ObserveDispatch("skipped")
		return nil
	}
	if _, inactive := e.inactive[id]; inactive {
		e.logger.Warn("got message for inactive sensing point, ignoring from now on", zap.String("element", id))
		e.skip[id] = struct{}{}
		e.metrics.ObserveDispatch("inactive")
		return nil
	}

	var h handler
	if id != "" {
		if kind, ok := element.KindFromTag(id[0]); ok {
			h = e.handlers[kind]
		}
	}
	if h == nil {
		return e.unroutable(id, value, errors.New("unknown element tag"))
	}

	err := h(id, value, e.now())
	var dispatchErr *DispatchError
	switch {
	case err == nil:
		e.metrics.ObserveDispatch("ok")
		return nil
	case errors.As(err, &dispatchErr):
		return e.unroutable(id, value, dispatchErr.Err)
	case errors.Is(err, element.ErrRetryExhausted):
		e.metrics.ObserveDispatch("suppressed")
		return nil
	default:
		e.metrics.ObserveDispatch("error")
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
}

func (e *Engine) unroutable(id string, value any, cause error) error {
	e.skip[id] = struct{}{}
	e.metrics.ObserveDispatch("unroutable")
	e.logger.Warn("cannot handle message part, ignoring from now on",
		zap.String("element", id),
		zap.Any("value", value),
		zap.Error(cause))
	return &DispatchError{ID: id, Err: cause}
}

func (e *Engine) handleSensingPoint(id string, value any, now time.Time) error {
	code, index, err := element.ParseID(id)
	if err != nil {
		return &DispatchError{ID: id, Err: err}
	}
	el, err := e.Lookup(element.KindSensingPoint, code, index)
	if err != nil {
		return &DispatchError{ID: id, Err: err}
	}
	return el.Budget().Call(now, func() error { return el.HandleValue(value, now) })
}

func (e *Engine) handleActuator(id string, value any, now time.Time) error {
	code, index, err := element.ParseID(id)
	if err != nil {
		return &DispatchError{ID: id, Err: err}
	}
	el, err := e.Lookup(element.KindActuator, code, index)
	if err != nil {
		return &DispatchError{ID: id, Err: err}
	}
	return el.Budget().Call(now, func() error { return el.HandleValue(value, now) })
}

// handleGeneral takes "G" keys. GEND marks the end of a telemetry burst;
// no other general message is acted on.
func (e *Engine) handleGeneral(id string, value any, _ time.Time) error {
	if id != "GEND" {
		e.logger.Debug("ignoring general message", zap.String("key", id), zap.Any("value", value))
	}
	return nil
}
