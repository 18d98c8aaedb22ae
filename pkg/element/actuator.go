// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package element

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender delivers one command line to the microcontroller
type Sender interface {
	Send(command string) error
}

// ActuatorConfig controls command pacing and convergence
type ActuatorConfig struct {
	// UpdateInterval is the minimum spacing between sends of the same actuator
	UpdateInterval time.Duration `mapstructure:"updateInterval" yaml:"updateInterval"`
	// MaxStateSetTime is how long a desired state may stay unconfirmed
	MaxStateSetTime time.Duration `mapstructure:"maxStateSetTime" yaml:"maxStateSetTime"`
	Retry           RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// DefaultActuatorConfig resends at most once a second and gives up after 10 seconds
func DefaultActuatorConfig() ActuatorConfig {
	return ActuatorConfig{
		UpdateInterval:  time.Second,
		MaxStateSetTime: 10 * time.Second,
		Retry:           DefaultRetryConfig(),
	}
}

// Effect is how an actuator moves one sensing point's reading
type Effect struct {
	SensingPointURL   string  `yaml:"sensingPoint"`
	EffectOnActive    float64 `yaml:"effectOnActive"`
	Threshold         float64 `yaml:"threshold"`
	OperatingRangeMin float64 `yaml:"operatingRangeMin"`
	OperatingRangeMax float64 `yaml:"operatingRangeMax"`
}

type boundEffect struct {
	Effect
	point *SensingPoint
}

// ConvergenceError is logged when a desired state is abandoned
type ConvergenceError struct {
	Actuator string
	Desired  float64
	Current  *float64
	Elapsed  time.Duration
}

func (e *ConvergenceError) Error() string {
	current := "unknown"
	if e.Current != nil {
		current = strconv.FormatFloat(*e.Current, 'f', -1, 64)
	}
	return fmt.Sprintf("actuator %s failed to change to state %v from %s within %v",
		e.Actuator, e.Desired, current, e.Elapsed)
}

// Actuator is one controllable device, e.g. the heater "AAHE 1"
type Actuator struct {
	ident   Identity
	binary  bool
	effects []boundEffect
	cfg     ActuatorConfig
	budget  *ErrorBudget
	limiter *rate.Limiter
	logger  *zap.Logger

	state     *float64 // desired
	current   *float64 // confirmed by the device
	override  bool
	setTime   time.Time
	lastSent  time.Time
	drivenBy  *SensingPoint
	abandoned int
}

// NewActuator creates an actuator. Effects whose sensing point cannot be
// resolved (missing or inactive) are left out. The remaining effects are
// evaluated in ascending (code, index) order of their sensing point.
func NewActuator(code string, index int, url string, binary bool, effects []Effect,
	resolve func(url string) (*SensingPoint, bool), cfg ActuatorConfig, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := Identity{Kind: KindActuator, Code: code, Index: index, URL: url}

	bound := make([]boundEffect, 0, len(effects))
	for _, e := range effects {
		point, ok := resolve(e.SensingPointURL)
		if !ok {
			logger.Debug("no sensing point for effect, skipping",
				zap.String("actuator", id.ID()),
				zap.String("sensing_point", e.SensingPointURL))
			continue
		}
		bound = append(bound, boundEffect{Effect: e, point: point})
	}
	sort.SliceStable(bound, func(i, j int) bool {
		a, b := bound[i].point.ident, bound[j].point.ident
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Index < b.Index
	})

	return &Actuator{
		ident:   id,
		binary:  binary,
		effects: bound,
		cfg:     cfg,
		budget:  NewErrorBudget(id.ID(), cfg.Retry, logger),
		limiter: rate.NewLimiter(rate.Every(cfg.UpdateInterval), 1),
		logger:  logger,
	}
}

// Identity returns the element identity
func (a *Actuator) Identity() Identity { return a.ident }

// Binary reports whether the actuator is on/off only
func (a *Actuator) Binary() bool { return a.binary }

// Budget returns the retry budget
func (a *Actuator) Budget() *ErrorBudget { return a.budget }

// State returns the desired state
func (a *Actuator) State() (float64, bool) {
	if a.state == nil {
		return 0, false
	}
	return *a.state, true
}

// CurrentState returns the state last reported by the device
func (a *Actuator) CurrentState() (float64, bool) {
	if a.current == nil {
		return 0, false
	}
	return *a.current, true
}

// Overridden reports whether a manual override is in force
func (a *Actuator) Overridden() bool { return a.override }

// DrivingPoint returns the sensing point the current state is for
func (a *Actuator) DrivingPoint() *SensingPoint { return a.drivenBy }

// Abandoned returns how many desired states were given up on
func (a *Actuator) Abandoned() int { return a.abandoned }

// HandleValue records the device-reported state
func (a *Actuator) HandleValue(raw any, _ time.Time) error {
	v, err := ParseValue(raw)
	if err != nil {
		return err
	}
	a.current = &v
	return nil
}

// SetDesiredState changes the desired state. It is ignored under override
// and when v equals the current desired state.
func (a *Actuator) SetDesiredState(v float64, now time.Time) {
	if a.override || (a.state != nil && *a.state == v) {
		return
	}
	a.state = &v
	a.setTime = now
	a.logger.Debug("actuator changing state",
		zap.String("actuator", a.ident.ID()),
		zap.Float64("state", v))
}

// Override forces the desired state until ClearOverride
func (a *Actuator) Override(v float64, now time.Time) {
	a.override = false
	a.SetDesiredState(v, now)
	a.override = true
}

// ClearOverride hands the actuator back to the control law
func (a *Actuator) ClearOverride() {
	a.override = false
}

// Control runs the threshold-band control law over every effect and sets
// the desired state to the strongest vote, or 0 when nothing votes.
func (a *Actuator) Control(now time.Time) {
	var (
		best   float64
		driver *SensingPoint
	)
	off := a.state != nil && *a.state == 0

	for _, e := range a.effects {
		if e.EffectOnActive == 0 {
			continue
		}
		current, ok := e.point.Value()
		if !ok {
			continue
		}
		desired, ok := e.point.DesiredValue()
		if !ok {
			continue
		}

		delta := desired - current
		switch {
		case math.Abs(delta) < e.Threshold && off:
			continue
		case math.Abs(delta) < e.Threshold/4 && !off:
			continue
		case delta*e.EffectOnActive < 0:
			continue
		}

		vote := 1.0
		if !a.binary {
			vote = delta / (e.OperatingRangeMax - e.OperatingRangeMin)
		}
		if driver == nil || vote >= best {
			best = vote
			driver = e.point
		}
	}

	if driver == nil {
		a.drivenBy = nil
		a.SetDesiredState(0, now)
		return
	}

	a.SetDesiredState(best, now)
	if !a.override {
		a.drivenBy = driver
	}
	a.logger.Debug("control vote",
		zap.String("actuator", a.ident.ID()),
		zap.Float64("state", best),
		zap.String("sensing_point", driver.ident.ID()))
}

// Command returns the wire command for state v
func (a *Actuator) Command(v float64) string {
	return fmt.Sprintf("%s %d %f", a.ident.Code, a.ident.Index, v)
}

// Update drives the device toward the desired state. It abandons a state
// that stays unconfirmed past MaxStateSetTime and otherwise resends at most
// once per UpdateInterval. An overridden state is never dropped; its
// timeout is reported and the wait starts over.
func (a *Actuator) Update(now time.Time, sender Sender) error {
	if a.state == nil || (a.current != nil && *a.current == *a.state) {
		a.setTime = time.Time{}
		return nil
	}

	if a.setTime.IsZero() {
		a.setTime = now
	}
	if elapsed := now.Sub(a.setTime); elapsed > a.cfg.MaxStateSetTime {
		err := &ConvergenceError{Actuator: a.ident.ID(), Desired: *a.state, Current: a.current, Elapsed: elapsed}
		a.logger.Error("actuator did not converge", zap.Error(err), zap.Bool("override", a.override))
		a.abandoned++
		if a.override {
			// the override stays in force; start a new convergence window for it
			a.setTime = now
			return err
		}
		a.state = nil
		a.setTime = time.Time{}
		return err
	}

	if !a.limiter.AllowN(now, 1) {
		return nil
	}
	a.lastSent = now
	if err := sender.Send(a.Command(*a.state)); err != nil {
		return fmt.Errorf("actuator %s: %w", a.ident.ID(), err)
	}
	return nil
}

// LastSent returns when a command was last sent
func (a *Actuator) LastSent() time.Time {
	return a.lastSent
}

func (a *Actuator) String() string {
	status := fmt.Sprintf("(Actuator %s %d", a.ident.Code, a.ident.Index)
	if a.current != nil {
		status += fmt.Sprintf(", cur. state %v", *a.current)
	}
	if a.state != nil {
		status += fmt.Sprintf(" desired state %v", *a.state)
	}
	if a.override {
		status += " for OVERRIDE"
	} else if a.drivenBy != nil {
		status += " for " + a.drivenBy.ident.ID()
	}
	return status + ")"
}
